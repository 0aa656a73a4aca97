package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/app"
	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/schedule"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Run(ctx context.Context, roles app.Roles) error {
	return m.Called(ctx, roles).Error(0)
}

func (m *mockApp) Publish(ctx context.Context, env boxoffice.Envelope) (string, error) {
	args := m.Called(ctx, env)
	return args.String(0), args.Error(1)
}

func (m *mockApp) State(ctx context.Context) (schedule.State, error) {
	args := m.Called(ctx)
	return args.Get(0).(schedule.State), args.Error(1)
}

func (m *mockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *mockApp) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// withApp swaps the factory for the duration of a test. Tests using it must
// not run in parallel.
func withApp(t *testing.T, a App, factoryErr error) *string {
	t.Helper()
	orig := newApp
	var seenConfig string
	newApp = func(_ context.Context, cfgFile string) (App, error) {
		seenConfig = cfgFile
		if factoryErr != nil {
			return nil, factoryErr
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &seenConfig
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeRunsSelectedRoles(t *testing.T) {
	m := &mockApp{}
	m.On("Run", mock.Anything, app.Roles{Controller: true, API: true}).Return(nil).Once()
	m.On("Close", mock.Anything).Return(nil).Once()
	seen := withApp(t, m, nil)

	_, err := execute(t, "--config", "cfg.yaml", "serve", "--roles", "controller,api")
	require.NoError(t, err)
	assert.Equal(t, "cfg.yaml", *seen)
	m.AssertExpectations(t)
}

func TestServeDefaultsToAllRoles(t *testing.T) {
	m := &mockApp{}
	m.On("Run", mock.Anything, app.AllRoles()).Return(nil).Once()
	m.On("Close", mock.Anything).Return(nil).Once()
	withApp(t, m, nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestServeRejectsUnknownRole(t *testing.T) {
	m := &mockApp{}
	withApp(t, m, nil)

	_, err := execute(t, "serve", "--roles", "scraper")
	require.ErrorContains(t, err, "unknown role")
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	withApp(t, nil, errors.New("no bucket"))

	_, err := execute(t, "state")
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestEventPublishesEnvelope(t *testing.T) {
	m := &mockApp{}
	want := boxoffice.Envelope{
		EventType: boxoffice.EventCrawlRanking,
		Dates:     []civil.Date{{Year: 2023, Month: 8, Day: 17}, {Year: 2023, Month: 8, Day: 18}},
	}
	m.On("Publish", mock.Anything, want).Return("msg-1", nil).Once()
	m.On("Close", mock.Anything).Return(nil).Once()
	withApp(t, m, nil)

	out, err := execute(t, "event", "crawl_ranking", "2023-08-17", "2023-08-18")
	require.NoError(t, err)
	assert.Equal(t, "msg-1\n", out)
	m.AssertExpectations(t)
}

func TestEventPublishFailure(t *testing.T) {
	m := &mockApp{}
	m.On("Publish", mock.Anything, mock.Anything).Return("", errors.New("topic gone")).Once()
	withApp(t, m, nil)

	_, err := execute(t, "event", "reset")
	require.ErrorContains(t, err, "topic gone")
}

func TestEnvelopeFromArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    boxoffice.Envelope
		wantErr bool
	}{
		{name: "reset any case", args: []string{"reset"}, want: boxoffice.Envelope{EventType: boxoffice.EventReset}},
		{name: "debug", args: []string{"DEBUG"}, want: boxoffice.Envelope{EventType: boxoffice.EventDebug}},
		{name: "prepare ranking", args: []string{"PREPARE_RANKING"}, want: boxoffice.Envelope{EventType: boxoffice.EventPrepareRanking}},
		{
			name: "detail",
			args: []string{"crawl_movie_detail", "rl1077904129"},
			want: boxoffice.Envelope{EventType: boxoffice.EventCrawlMovieDetail, ID: "rl1077904129"},
		},
		{
			name: "validate",
			args: []string{"validate_ranking", "2023-08-17"},
			want: boxoffice.Envelope{EventType: boxoffice.EventValidateRanking, Dates: []civil.Date{{Year: 2023, Month: 8, Day: 17}}},
		},
		{name: "detail without id", args: []string{"crawl_movie_detail"}, wantErr: true},
		{name: "crawl without dates", args: []string{"crawl_ranking"}, wantErr: true},
		{name: "bad date", args: []string{"crawl_ranking", "08/17/2023"}, wantErr: true},
		{name: "reset with args", args: []string{"RESET", "2023-08-17"}, wantErr: true},
		{name: "unknown", args: []string{"crawl_everything"}, wantErr: true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := envelopeFromArgs(tc.args)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStatePrintsDocument(t *testing.T) {
	m := &mockApp{}
	s := schedule.State{
		NextDateToCrawl:     civil.Date{Year: 2023, Month: 10, Day: 4},
		RankingQueue:        []civil.Date{},
		ValidationQueue:     []civil.Date{},
		NumOfRankingToCrawl: 3,
	}
	m.On("State", mock.Anything).Return(s, nil).Once()
	m.On("Close", mock.Anything).Return(nil).Once()
	withApp(t, m, nil)

	out, err := execute(t, "state")
	require.NoError(t, err)
	assert.Contains(t, out, `"next_date_to_crawl":"2023-10-04"`)
	assert.Contains(t, out, `"num_of_ranking_to_crawl":3`)
	m.AssertExpectations(t)
}

func TestStateNotInitialized(t *testing.T) {
	m := &mockApp{}
	m.On("State", mock.Anything).Return(schedule.State{}, schedule.ErrStateNotInitialized).Once()
	withApp(t, m, nil)

	_, err := execute(t, "state")
	require.ErrorIs(t, err, schedule.ErrStateNotInitialized)
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
