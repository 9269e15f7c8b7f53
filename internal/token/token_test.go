package token

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type GeneratorSuite struct {
	suite.Suite
	gen *Generator
}

func (s *GeneratorSuite) SetupTest() {
	s.gen = NewGenerator([]byte("0123456789abcdef0123456789abcdef"))
}

func TestGeneratorSuite(t *testing.T) {
	suite.Run(t, new(GeneratorSuite))
}

func (s *GeneratorSuite) TestDeterministic() {
	a := s.gen.Placeholder("c1", "EMAIL", "alice@example.com")
	b := s.gen.Placeholder("c1", "EMAIL", "alice@example.com")
	s.Equal(a, b)
}

func (s *GeneratorSuite) TestCrossConversationIsolation() {
	a := s.gen.Placeholder("c1", "EMAIL", "alice@example.com")
	b := s.gen.Placeholder("c2", "EMAIL", "alice@example.com")
	s.NotEqual(a, b)
}

func (s *GeneratorSuite) TestFormat() {
	p := s.gen.Placeholder("c1", "email", "alice@example.com")
	s.True(len(p) > len("«token::»"))
	s.Contains(p, "«token:EMAIL:")
	s.Contains(p, "»")
}

func (s *GeneratorSuite) TestHandleIsUniqueAndWellFormed() {
	h1, err := NewHandle()
	s.Require().NoError(err)
	h2, err := NewHandle()
	s.Require().NoError(err)
	s.NotEqual(h1, h2)
	s.NotEmpty(h1)
}
