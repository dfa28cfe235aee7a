package mongo_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/bus-ticket-reservations/internal/adapters/mongo"
	"github.com/robertarktes/bus-ticket-reservations/internal/domain"
	"github.com/robertarktes/bus-ticket-reservations/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupCatalog(t *testing.T) *mongoadapter.ScheduleRepository {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+host+":"+port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })

	repo := mongoadapter.NewScheduleRepository(client.Database("busres_test"), observability.NewLogger())
	if err := repo.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}
	return repo
}

func seedSchedule(t *testing.T, repo *mongoadapter.ScheduleRepository) domain.Schedule {
	t.Helper()
	sched := domain.Schedule{
		ID:          uuid.New(),
		RouteID:     uuid.New(),
		BusinessID:  uuid.New(),
		Price:       100000,
		VehicleType: "sitting",
		Capacity:    4,
		SeatLayout:  "2-2",
		Seats:       domain.GenerateSeats(4, "2-2"),
		Status:      domain.ScheduleActive,
	}
	if err := repo.Create(context.Background(), sched); err != nil {
		t.Fatal(err)
	}
	return sched
}

func TestScheduleCatalog(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	repo := setupCatalog(t)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		sched := seedSchedule(t, repo)
		got, err := repo.Get(ctx, sched.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.RouteID != sched.RouteID || len(got.Seats) != 4 {
			t.Errorf("round trip mismatch: %+v", got)
		}
		seat, ok := got.Seat("1A")
		if !ok || !seat.Available || seat.Class != domain.SeatVIP {
			t.Errorf("seat 1A = %+v/%v", seat, ok)
		}

		if _, err := repo.Get(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("unknown id: got %v, want ErrNotFound", err)
		}
	})

	t.Run("HoldSeat", func(t *testing.T) {
		sched := seedSchedule(t, repo)

		if err := repo.HoldSeat(ctx, sched.ID, "1A"); err != nil {
			t.Fatalf("hold: %v", err)
		}
		got, err := repo.Get(ctx, sched.ID)
		if err != nil {
			t.Fatal(err)
		}
		if seat, _ := got.Seat("1A"); seat.Available {
			t.Error("1A must read unavailable after hold")
		}
		if seat, _ := got.Seat("1B"); !seat.Available {
			t.Error("1B must be untouched")
		}

		// A second hold on the same seat matches nothing.
		if err := repo.HoldSeat(ctx, sched.ID, "1A"); !errors.Is(err, domain.ErrSeatConflict) {
			t.Errorf("double hold: got %v, want ErrSeatConflict", err)
		}
		if err := repo.HoldSeat(ctx, sched.ID, "9Z"); !errors.Is(err, domain.ErrSeatConflict) {
			t.Errorf("unknown seat: got %v, want ErrSeatConflict", err)
		}
	})

	t.Run("HoldSeatConcurrent", func(t *testing.T) {
		sched := seedSchedule(t, repo)

		const callers = 8
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.HoldSeat(ctx, sched.ID, "2A")
			}(i)
		}
		wg.Wait()

		var wins int
		for _, err := range errs {
			if err == nil {
				wins++
			} else if !errors.Is(err, domain.ErrSeatConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Errorf("winners = %d, want exactly 1", wins)
		}
	})

	t.Run("ReleaseSeatIdempotent", func(t *testing.T) {
		sched := seedSchedule(t, repo)

		if err := repo.HoldSeat(ctx, sched.ID, "1A"); err != nil {
			t.Fatal(err)
		}
		if err := repo.ReleaseSeat(ctx, sched.ID, "1A"); err != nil {
			t.Fatalf("release: %v", err)
		}
		got, err := repo.Get(ctx, sched.ID)
		if err != nil {
			t.Fatal(err)
		}
		if seat, _ := got.Seat("1A"); !seat.Available {
			t.Error("1A must read available after release")
		}

		// Already available, and a schedule that never existed: both no-ops.
		if err := repo.ReleaseSeat(ctx, sched.ID, "1A"); err != nil {
			t.Errorf("double release: %v", err)
		}
		if err := repo.ReleaseSeat(ctx, uuid.New(), "1A"); err != nil {
			t.Errorf("unknown schedule release: %v", err)
		}
	})
}
