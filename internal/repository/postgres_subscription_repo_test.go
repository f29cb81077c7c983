package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hitoshi/vpswatch/internal/model"
)

func TestPostgresSubscriptionRepo_ImplementsInterface(t *testing.T) {
	var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
}

// TestPostgresSubscriptionRepo_ListActiveByTarget はターゲット一致かつ
// アクティブな購読だけが返ることを検証する。
func TestPostgresSubscriptionRepo_ListActiveByTarget(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresSubscriptionRepo(db)
	ctx := context.Background()

	seeds := []struct {
		userID string
		m      model.Model
		dc     model.Datacenter
		active bool
	}{
		{"u1", 3, model.DatacenterGRA, true},
		{"u2", 3, model.DatacenterGRA, true},
		{"u3", 3, model.DatacenterGRA, false}, // 非アクティブは対象外
		{"u4", 3, model.DatacenterSBG, true},  // 別データセンター
		{"u5", 2, model.DatacenterGRA, true},  // 別モデル
	}
	for _, s := range seeds {
		if _, err := db.Exec(
			`INSERT INTO subscriptions (id, user_id, email, model, datacenter, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), s.userID, s.userID+"@example.com", int(s.m), string(s.dc), s.active,
		); err != nil {
			t.Fatalf("購読の挿入に失敗: %v", err)
		}
	}

	subs, err := repo.ListActiveByTarget(ctx, 3, model.DatacenterGRA)
	if err != nil {
		t.Fatalf("ListActiveByTarget() error = %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("len(subs) = %d, want 2", len(subs))
	}
	for _, sub := range subs {
		if sub.UserID != "u1" && sub.UserID != "u2" {
			t.Errorf("unexpected subscriber: %s", sub.UserID)
		}
		if !sub.IsActive {
			t.Errorf("購読 %s が非アクティブです", sub.UserID)
		}
	}
}

// TestPostgresSubscriptionRepo_NoSubscribers は購読者がいないターゲットで
// 空の結果が返ることを検証する。
func TestPostgresSubscriptionRepo_NoSubscribers(t *testing.T) {
	db := setupRepoDB(t)
	repo := NewPostgresSubscriptionRepo(db)

	subs, err := repo.ListActiveByTarget(context.Background(), 6, model.DatacenterUK)
	if err != nil {
		t.Fatalf("ListActiveByTarget() error = %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("len(subs) = %d, want 0", len(subs))
	}
}
