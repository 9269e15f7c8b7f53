package safety

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type FilterSuite struct {
	suite.Suite
	f *Filter
}

func (s *FilterSuite) SetupTest() {
	s.f = New(nil)
}

func TestFilterSuite(t *testing.T) {
	suite.Run(t, new(FilterSuite))
}

func (s *FilterSuite) TestScanFindsDangerousCommand() {
	issues := s.f.Scan("run this: rm -rf / to clean up")
	s.Require().Len(issues, 1)
	s.Equal("Recursive delete from root directory", issues[0].Description)
}

func (s *FilterSuite) TestScanIgnoresSafeText() {
	issues := s.f.Scan("ls -la and then cat file.txt")
	s.Empty(issues)
}

func (s *FilterSuite) TestAnnotateWarningMode() {
	out := s.f.Annotate("try rm -rf / now", ModeWarning)
	s.Contains(out, "SAFETY WARNING")
	s.Contains(out, "rm -rf /")
}

func (s *FilterSuite) TestAnnotateBlockMode() {
	out := s.f.Annotate("try rm -rf / now", ModeBlock)
	s.NotContains(out, "rm -rf /")
	s.Contains(out, "[BLOCKED:")
}

func (s *FilterSuite) TestAnnotateSilentMode() {
	in := "try rm -rf / now"
	out := s.f.Annotate(in, ModeSilent)
	s.Equal(in, out)
}

func (s *FilterSuite) TestAnnotateNoIssuesUnchanged() {
	in := "nothing dangerous here"
	out := s.f.Annotate(in, ModeWarning)
	s.Equal(in, out)
}

func (s *FilterSuite) TestCustomPattern() {
	f := New(map[string]string{"delete-everything": "custom dangerous op"})
	issues := f.Scan("about to delete-everything now")
	s.Require().Len(issues, 1)
	s.Equal("custom dangerous op", issues[0].Description)
}
