package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/config"
	"listing_hunter/internal/domain"
	"listing_hunter/internal/service/mocks"
	"listing_hunter/internal/testutil"
)

type DetectionServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source   *mocks.MockSource
	listings *mocks.MockListingStore
	notifier *mocks.MockNotifier

	log     *activity.Log
	state   *State
	service *DetectionService
}

func (s *DetectionServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.listings = mocks.NewMockListingStore(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	s.log = activity.New(50, testLogger())
	s.state = NewState()

	s.service = NewDetectionService(s.source, s.listings, s.notifier, s.log, s.state, testLogger(), config.SyncConfig{
		PageSize:   50,
		Categories: []domain.Category{domain.CategoryApartment},
	})
}

func (s *DetectionServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDetectionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(DetectionServiceTestSuite))
}

func notified(l domain.Listing, price float64) *domain.Listing {
	at := time.Now().Add(-time.Hour)
	l.NotifiedAt = &at
	l.PriceAtNotification = &price
	return &l
}

func (s *DetectionServiceTestSuite) TestRunCategory_ClassifiesEveryOutcome() {
	ctx := context.Background()
	s.state.EnableNotifications(time.Now())

	fresh := apartment("new", 150000)
	legacy := apartment("legacy", 160000)
	dropped := apartment("drop", 190000)
	same := apartment("same", 100000)

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{fresh, legacy, dropped, same}}, nil)

	gomock.InOrder(
		s.listings.EXPECT().Get(ctx, "new").Return(nil, &domain.NotFoundError{Entity: "listing", ID: "new"}),
		s.listings.EXPECT().Upsert(ctx, &fresh).Return(nil),
	)
	legacyStored := legacy
	s.listings.EXPECT().Get(ctx, "legacy").Return(&legacyStored, nil)
	s.listings.EXPECT().Upsert(ctx, &legacy).Return(nil)
	s.listings.EXPECT().Get(ctx, "drop").Return(notified(dropped, 200000), nil)
	s.listings.EXPECT().Upsert(ctx, &dropped).Return(nil)
	s.listings.EXPECT().Get(ctx, "same").Return(notified(same, 100000), nil)
	s.listings.EXPECT().Upsert(ctx, &same).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(42, nil)

	s.notifier.EXPECT().Dispatch(ctx, []domain.Listing{fresh, legacy, dropped}).
		Return(&domain.DispatchStats{NewListings: 2, PriceDrops: 1}, nil)

	stats, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.NoError(err)
	s.Equal(4, stats.Total)
	s.Equal(2, stats.New)
	s.Equal(1, stats.PriceDropped)
	s.Equal(1, stats.Unchanged)
	s.Equal(0, stats.Errors)
	s.True(stats.Dispatched)

	entries := s.log.Entries(0)
	s.Require().Len(entries, 1)
	s.Equal(activity.KindFetch, entries[0].Kind)
	s.Equal("Checked 4 apartments: 2 new, 1 price drops", entries[0].Message)
	s.Equal(42, entries[0].Details["total_in_db"])
}

func (s *DetectionServiceTestSuite) TestRunCategory_PriceRiseIsUnchanged() {
	ctx := context.Background()
	s.state.EnableNotifications(time.Now())
	raised := apartment("1", 210000)

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{raised}}, nil)
	s.listings.EXPECT().Get(ctx, "1").Return(notified(raised, 200000), nil)
	s.listings.EXPECT().Upsert(ctx, &raised).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(1, nil)

	stats, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.NoError(err)
	s.Equal(1, stats.Unchanged)
	s.False(stats.Dispatched)
}

func (s *DetectionServiceTestSuite) TestRunCategory_SeedsQuietlyUntilEnabled() {
	ctx := context.Background()
	fresh := apartment("1", 150000)

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{fresh}}, nil)
	s.listings.EXPECT().Get(ctx, "1").Return(nil, &domain.NotFoundError{Entity: "listing", ID: "1"})
	s.listings.EXPECT().Upsert(ctx, &fresh).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(1, nil)

	stats, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.NoError(err)
	s.Equal(1, stats.New)
	s.False(stats.Dispatched)
	s.Equal(1, s.log.Count(), "summary is recorded even when notifications are off")
}

func (s *DetectionServiceTestSuite) TestRunCategory_FetchError() {
	ctx := context.Background()

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).Return(nil, errors.New("no response"))
	s.listings.EXPECT().CountAll(ctx).Return(12, nil)

	_, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.Error(err)
	entries := s.log.Entries(0)
	s.Require().Len(entries, 2)
	s.Equal(activity.KindError, entries[1].Kind)

	summary := entries[0]
	s.Equal(activity.KindFetch, summary.Kind)
	s.Equal("Checked 0 apartments: 0 new, 0 price drops", summary.Message)
	s.Equal("no response", summary.Details["fetch_error"])
	s.Equal(12, summary.Details["total_in_db"])
}

func (s *DetectionServiceTestSuite) TestRunCategory_UpsertFailureExcludesListing() {
	ctx := context.Background()
	s.state.EnableNotifications(time.Now())
	broken, ok := apartment("broken", 1), apartment("ok", 2)

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{broken, ok}}, nil)
	s.listings.EXPECT().Get(ctx, "broken").Return(nil, &domain.NotFoundError{Entity: "listing", ID: "broken"})
	s.listings.EXPECT().Upsert(ctx, &broken).Return(errors.New("deadlock detected"))
	s.listings.EXPECT().Get(ctx, "ok").Return(nil, &domain.NotFoundError{Entity: "listing", ID: "ok"})
	s.listings.EXPECT().Upsert(ctx, &ok).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(1, nil)
	s.notifier.EXPECT().Dispatch(ctx, []domain.Listing{ok}).Return(&domain.DispatchStats{NewListings: 1}, nil)

	stats, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(1, stats.New)
}

func (s *DetectionServiceTestSuite) TestRunCategory_LookupFailureStillUpserts() {
	ctx := context.Background()
	s.state.EnableNotifications(time.Now())
	listing := apartment("1", 1)
	listing.Location = testutil.Ptr("Sarajevo")

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{listing}}, nil)
	s.listings.EXPECT().Get(ctx, "1").Return(nil, errors.New("connection refused"))
	s.listings.EXPECT().Upsert(ctx, &listing).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(0, errors.New("connection refused"))

	stats, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.NoError(err)
	s.Equal(1, stats.Errors)
	s.False(stats.Dispatched)
}

func (s *DetectionServiceTestSuite) TestRunCategory_DispatchError() {
	ctx := context.Background()
	s.state.EnableNotifications(time.Now())
	fresh := apartment("1", 1)

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).
		Return(&domain.Page{Listings: []domain.Listing{fresh}}, nil)
	s.listings.EXPECT().Get(ctx, "1").Return(nil, &domain.NotFoundError{Entity: "listing", ID: "1"})
	s.listings.EXPECT().Upsert(ctx, &fresh).Return(nil)
	s.listings.EXPECT().CountAll(ctx).Return(1, nil)
	s.notifier.EXPECT().Dispatch(ctx, gomock.Any()).Return(nil, errors.New("list recipients: timeout"))

	_, err := s.service.RunCategory(ctx, domain.CategoryApartment)

	s.Error(err)
	s.Equal(activity.KindError, s.log.Entries(1)[0].Kind)
}

func (s *DetectionServiceTestSuite) TestRun_StampsLastCheck() {
	ctx := context.Background()

	s.source.EXPECT().FetchPage(ctx, domain.CategoryApartment, 0, 50).Return(&domain.Page{}, nil)
	s.listings.EXPECT().CountAll(ctx).Return(0, nil)

	s.NoError(s.service.Run(ctx))
	s.NotNil(s.state.Status().LastCheckAt)
}
