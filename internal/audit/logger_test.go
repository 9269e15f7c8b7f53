package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type LoggerSuite struct {
	suite.Suite
	logger *Logger
}

func (s *LoggerSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, nil, nil)
	s.Require().NoError(err)
	s.logger = logger
}

func (s *LoggerSuite) TearDownTest() {
	s.Require().NoError(s.logger.Close())
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerSuite))
}

func (s *LoggerSuite) TestWriteAndQuery() {
	s.Require().NoError(s.logger.Write(Record{
		Timestamp: time.Now(), Action: "redact", Caller: "user", Region: "us",
		ConversationID: "c1", PayloadSizeBytes: 42,
	}))
	s.Require().NoError(s.logger.Write(Record{
		Timestamp: time.Now(), Action: "route", Caller: "incident-mgr", Region: "cn",
		ConversationID: "c2", PayloadSizeBytes: 10,
	}))

	results, err := s.logger.Query("", 10)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	// reverse-chronological: most recent write first
	s.Equal("route", results[0].Action)
	s.Equal("redact", results[1].Action)
}

func (s *LoggerSuite) TestQueryFiltersBySubstring() {
	s.Require().NoError(s.logger.Write(Record{Action: "redact", Caller: "user", ConversationID: "c1"}))
	s.Require().NoError(s.logger.Write(Record{Action: "route", Caller: "incident-mgr", ConversationID: "c2"}))

	results, err := s.logger.Query("incident-mgr", 10)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("route", results[0].Action)
}

func (s *LoggerSuite) TestQueryRespectsLimit() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.logger.Write(Record{Action: "redact", ConversationID: "c"}))
	}
	results, err := s.logger.Query("", 2)
	s.Require().NoError(err)
	s.Len(results, 2)
}

func (s *LoggerSuite) TestQueryOnEmptyLogReturnsEmpty() {
	logger, err := NewLogger(filepath.Join(s.T().TempDir(), "nested", "audit.jsonl"), nil, nil)
	s.Require().NoError(err)
	defer logger.Close()

	results, err := logger.Query("anything", 10)
	s.Require().NoError(err)
	s.Empty(results)
}
