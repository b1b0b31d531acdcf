package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/hardbruecke/internal/domain"
)

func TestMockRepositoryDays(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.RawRecord{
		{Timestamp: day, Name: "Ost-Nord total", In: 1},
		{Timestamp: day.Add(5 * time.Minute), Name: "Ost-Nord total", Out: 2},
	}

	if err := repo.SaveDayRecords(ctx, "r", day, records); err != nil {
		t.Fatalf("SaveDayRecords: %v", err)
	}
	records[0].In = 100

	got, err := repo.GetDayRecords(ctx, "r", day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("GetDayRecords: %v", err)
	}
	if len(got) != 2 || got[0].In != 1 || got[1].Out != 2 {
		t.Errorf("GetDayRecords = %+v", got)
	}

	if other, _ := repo.GetDayRecords(ctx, "other", day); other != nil {
		t.Errorf("unexpected records for other resource: %+v", other)
	}
}

func TestMockRepositoryLogs(t *testing.T) {
	repo := NewMockRepository()
	entry := domain.PredictionLog{RequestID: uuid.New(), Location: "Ost-Nord total", State: domain.StatePredictionReady}
	if err := repo.SavePredictionLog(context.Background(), entry); err != nil {
		t.Fatalf("SavePredictionLog: %v", err)
	}
	logs := repo.PredictionLogs()
	if len(logs) != 1 || logs[0].RequestID != entry.RequestID {
		t.Errorf("PredictionLogs = %+v", logs)
	}
	if err := repo.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
