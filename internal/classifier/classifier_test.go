package classifier

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"llmfirewall/internal/detector"
)

type ClassifierSuite struct {
	suite.Suite
	c *Classifier
}

func (s *ClassifierSuite) SetupTest() {
	s.c = New(DefaultThreshold)
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierSuite))
}

func (s *ClassifierSuite) TestBelowThresholdYieldsNoSpan() {
	span := s.c.Classify("just a normal message about the weather")
	s.Nil(span)
}

func (s *ClassifierSuite) TestSingleKeywordBelowThreshold() {
	span := s.c.Classify("we talked about avionics today")
	s.Nil(span)
}

func (s *ClassifierSuite) TestMeetsThresholdEmitsSpan() {
	span := s.c.Classify("the ITAR review covered avionics and flight control design")
	s.Require().NotNil(span)
	s.Equal(detector.CategoryExportControl, span.Category)
	s.Equal(0, span.Start)
}

func (s *ClassifierSuite) TestConfidenceFormula() {
	// 6 matches at threshold=2 -> min(1.0, 6/6) == 1.0
	text := "ITAR EAR ECCN avionics autopilot airframe"
	span := s.c.Classify(text)
	s.Require().NotNil(span)
	s.InDelta(1.0, span.Confidence, 0.001)
}

func (s *ClassifierSuite) TestConfidenceCapsAtOne() {
	text := "ITAR ITAR ITAR ITAR ITAR ITAR ITAR ITAR ITAR ITAR"
	span := s.c.Classify(text)
	s.Require().NotNil(span)
	s.LessOrEqual(span.Confidence, 1.0)
}

func (s *ClassifierSuite) TestCaseInsensitive() {
	span := s.c.Classify("itar and eVTOL and FLIGHT CONTROL")
	s.Require().NotNil(span)
}

func (s *ClassifierSuite) TestCustomThreshold() {
	c := New(1)
	span := c.Classify("just ITAR alone")
	s.Require().NotNil(span)
}
