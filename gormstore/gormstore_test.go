package gormstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bluescreen10/sugary/gormstore"
)

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	id := "abc123"
	expectedData := []byte("hello world")

	s := newStore(t)

	if err := s.Set(ctx, id, expectedData, time.Now().Add(1*time.Hour)); err != nil {
		t.Fatal(err)
	}
	data, found, err := s.Get(ctx, id)

	if err != nil {
		t.Fatal(err)
	}

	if string(data) != string(expectedData) {
		t.Fatalf("expected '%s' got '%s'", expectedData, data)
	}

	if !found {
		t.Fatalf("expected 'true' got '%v'", found)
	}
}

func TestSetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	s.Set(ctx, "abc123", []byte("first"), time.Now().Add(1*time.Hour))
	s.Set(ctx, "abc123", []byte("second"), time.Now().Add(1*time.Hour))

	data, _, err := s.Get(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "second" {
		t.Fatalf("expected 'second' got '%s'", data)
	}
}

func TestEmptyGet(t *testing.T) {
	s := newStore(t)
	_, found, err := s.Get(context.Background(), "abc123")

	if err != nil {
		t.Fatal(err)
	}

	if found {
		t.Fatalf("expected 'false' got '%v'", found)
	}
}

func TestGetExpired(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	s.Set(ctx, "abc123", []byte("hello world"), time.Now().Add(-1*time.Hour))
	_, found, err := s.Get(ctx, "abc123")

	if err != nil {
		t.Fatal(err)
	}

	if found {
		t.Fatalf("expected 'false' got '%v'", found)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	s.Set(ctx, "abc123", []byte("hello world"), time.Now().Add(1*time.Hour))
	if err := s.Delete(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}

	if _, found, _ := s.Get(ctx, "abc123"); found {
		t.Fatalf("expected 'false' got '%v'", found)
	}
}

func TestSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := newDB(t)

	s, err := gormstore.New(db)
	if err != nil {
		t.Fatal(err)
	}

	s.Set(ctx, "abc123", []byte("hello world"), time.Now().Add(1*time.Hour))
	s.Set(ctx, "abc1234", []byte("hello world"), time.Now().Add(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		s.Sweep(ctx, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	var got int64
	if err := db.Table("durable_sessions").Count(&got).Error; err != nil {
		t.Fatal(err)
	}

	if got != 1 {
		t.Fatalf("expected 1 item but got '%d'", got)
	}
}

func newStore(t *testing.T) *gormstore.GORMStore {
	t.Helper()
	s, err := gormstore.New(newDB(t))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	// one private in-memory database per test
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatal(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}
