package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"llmfirewall/internal/classifier"
	"llmfirewall/internal/detector"
	"llmfirewall/internal/policy"
	. "llmfirewall/internal/token"
	"llmfirewall/internal/token/mocks"
	dErrors "llmfirewall/pkg/errors"
)

// RedactStoreSuite exercises Service.Redact against a mocked Store, since
// the backend-unavailable path is easiest to trigger deterministically
// through a mock rather than by breaking a real store.
type RedactStoreSuite struct {
	suite.Suite
	ctrl  *gomock.Controller
	store *mocks.MockStore
	svc   *Service
}

func TestRedactStoreSuite(t *testing.T) {
	suite.Run(t, new(RedactStoreSuite))
}

func (s *RedactStoreSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)

	doc := &policy.Document{
		Version: 1,
		Routes: []policy.Route{
			{
				Match:     policy.Match{},
				Action:    policy.ActionAllow,
				AppliesTo: policy.AppliesTo{Regions: []string{"*"}, Callers: []string{"*"}},
			},
		},
		RegionRouting: map[string]policy.RegionRouting{
			"us": {AllowExternal: true, PreferredModels: []string{"gpt-4o"}},
		},
	}

	gen := NewGenerator([]byte("0123456789abcdef0123456789abcdef"))
	engine := policy.New(doc, nil)
	s.svc = NewService(detector.New(nil), classifier.New(classifier.DefaultThreshold), engine, s.store, gen, time.Hour)
}

func (s *RedactStoreSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RedactStoreSuite) TestStoreFailurePropagatesAsBackendUnavailable() {
	s.store.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(context.DeadlineExceeded)

	pctx := policy.Context{Caller: "user", Region: "us", Env: "prod", ConversationID: "c1"}
	_, err := s.svc.Redact(context.Background(), "nothing sensitive here", pctx)

	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeBackendUnavailable))
}
