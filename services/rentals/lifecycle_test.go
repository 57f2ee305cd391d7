package rentals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtendAddsTimeAndPrice(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	created := mustCreate(t, svc, "u1", "g1", 3600, "100")

	got, payment, err := svc.Extend(ctx, ExtendInput{
		UserID:          "u1",
		GameID:          "g1",
		AdditionalTime:  1800,
		AdditionalPrice: dec(t, "50"),
	})
	require.NoError(t, err)
	require.Nil(t, payment)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, Seconds(5400), got.Time)
	requireMoney(t, "150", got.Price)
	require.EqualValues(t, 2, got.Version)

	require.Equal(t, []string{SubjectRentalCreated, SubjectRentalExtended}, events.subjects())
	ev := events.events[1].payload.(RentalEvent)
	require.Equal(t, Seconds(1800), ev.Added)
}

func TestExtendMissingPairWritesNothing(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Extend(ctx, ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 60, AdditionalPrice: dec(t, "1")})
	require.ErrorIs(t, err, ErrNotFound)

	all, err := svc.ListRentals(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	payments, err := svc.ListPayments(ctx)
	require.NoError(t, err)
	require.Zero(t, payments.Count)
	require.Empty(t, events.subjects())
}

func TestExtendValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "u1", "g1", 3600, "100")

	tests := []struct {
		name string
		in   ExtendInput
	}{
		{"zero time", ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 0, AdditionalPrice: dec(t, "1")}},
		{"negative price", ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 10, AdditionalPrice: dec(t, "-1")}},
		{"payment without price", ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 10, RecordPayment: true}},
		{"missing game", ExtendInput{UserID: "u1", AdditionalTime: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Extend(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestExtendReactivatesAndRecordsPayment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 60, "10")
	_, err := svc.UpdateRentalTime(ctx, r.ID, 0, nil)
	require.NoError(t, err)

	got, payment, err := svc.Extend(ctx, ExtendInput{
		UserID:          "u1",
		GameID:          "g1",
		AdditionalTime:  600,
		AdditionalPrice: dec(t, "25.50"),
		RecordPayment:   true,
		PaymentMeta:     map[string]any{"method": "card"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, Seconds(600), got.Time)
	require.NotNil(t, payment)
	require.Equal(t, PaymentExtension, payment.Kind)
	require.Equal(t, r.ID, payment.RentalID)
	requireMoney(t, "25.50", payment.Amount)

	list, err := svc.ListPayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	require.Equal(t, "card", list.Payments[0].Meta["method"])
}

func TestExtendDuringExhaustedSession(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 60, "5")
	_, err := svc.StartSession(ctx, r.ID)
	require.NoError(t, err)

	// the session runs well past its budget before anyone sweeps it
	clock.advance(10 * time.Minute)

	got, _, err := svc.Extend(ctx, ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 1800, AdditionalPrice: dec(t, "50")})
	require.NoError(t, err)
	require.Equal(t, Seconds(1800), got.Time)
	require.NotNil(t, got.SessionStartedAt)

	state, err := svc.Remaining(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, Seconds(1800), state.Remaining)
	require.True(t, state.Running)

	clock.advance(5 * time.Minute)
	state, err = svc.Remaining(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, Seconds(1500), state.Remaining)
}

func TestExtendDuringSessionKeepsUnplayedTime(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 600, "5")
	_, err := svc.StartSession(ctx, r.ID)
	require.NoError(t, err)
	clock.advance(2 * time.Minute)

	_, _, err = svc.Extend(ctx, ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 300, AdditionalPrice: dec(t, "1")})
	require.NoError(t, err)

	state, err := svc.Remaining(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, Seconds(780), state.Remaining)
}

func TestExtendClosedRentalConflicts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 60, "10")
	_, err := svc.CloseRental(ctx, r.ID)
	require.NoError(t, err)

	_, _, err = svc.Extend(ctx, ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 60, AdditionalPrice: dec(t, "1")})
	require.ErrorIs(t, err, ErrConflict)

	got, err := svc.GetRental(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, Seconds(60), got.Time)
}

func TestConcurrentExtendsAddUp(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "u1", "g1", 100, "10")

	const workers = 8
	step := dec(t, "1.25")
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Extend(ctx, ExtendInput{UserID: "u1", GameID: "g1", AdditionalTime: 10, AdditionalPrice: step})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.LatestRental(ctx, "u1", "g1")
	require.NoError(t, err)
	require.Equal(t, Seconds(100+workers*10), got.Time)
	requireMoney(t, "20", got.Price)
	require.EqualValues(t, 1+workers, got.Version)
}

func TestPurchaseCreatesRentalAndPayment(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	rental, payment, err := svc.Purchase(ctx, CreateInput{UserID: "u1", GameID: "g1", Time: 3600, Price: dec(t, "150")}, map[string]any{"currency": "LKR"})
	require.NoError(t, err)
	require.Equal(t, rental.ID, payment.RentalID)
	require.Equal(t, PaymentPurchase, payment.Kind)
	requireMoney(t, "150", payment.Amount)

	all, err := svc.ListRentals(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	list, err := svc.ListPayments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	requireMoney(t, "150", list.TotalAmount)

	require.Equal(t, []string{SubjectRentalCreated, SubjectPaymentCreated}, events.subjects())

	_, _, err = svc.Purchase(ctx, CreateInput{UserID: "u1", GameID: "g1", Time: 3600}, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateRentalTimeRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 3600, "100")

	for _, x := range []Seconds{3599, 1234, 1} {
		_, err := svc.UpdateRentalTime(ctx, r.ID, x, nil)
		require.NoError(t, err)

		got, err := svc.GetRental(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, x, got.Time)
		require.Equal(t, StatusActive, got.Status)
	}
}

func TestUpdateRentalTimeRules(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 600, "10")

	_, err := svc.UpdateRentalTime(ctx, r.ID, 601, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateRentalTime(ctx, r.ID, -1, nil)
	require.ErrorIs(t, err, ErrValidation)

	stale := r.Version
	got, err := svc.UpdateRentalTime(ctx, r.ID, 500, &stale)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.Version)

	_, err = svc.UpdateRentalTime(ctx, r.ID, 400, &stale)
	require.ErrorIs(t, err, ErrConflict)

	got, err = svc.UpdateRentalTime(ctx, r.ID, 0, nil)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)
	require.Contains(t, events.subjects(), SubjectRentalExpired)
}

func TestCloseRental(t *testing.T) {
	svc, clock, events := newTestService(t)
	ctx := context.Background()

	r := mustCreate(t, svc, "u1", "g1", 600, "10")
	_, err := svc.StartSession(ctx, r.ID)
	require.NoError(t, err)
	clock.advance(100 * time.Second)

	got, err := svc.CloseRental(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, got.Status)
	require.Nil(t, got.SessionStartedAt)
	require.Equal(t, Seconds(500), got.Time)

	again, err := svc.CloseRental(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, got.Version, again.Version)

	_, err = svc.UpdateRentalTime(ctx, r.ID, 10, nil)
	require.ErrorIs(t, err, ErrConflict)

	closed := 0
	for _, s := range events.subjects() {
		if s == SubjectRentalClosed {
			closed++
		}
	}
	require.Equal(t, 1, closed)
}
