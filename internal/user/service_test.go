package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/whispa/internal/model"
	"github.com/hitoshi/whispa/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
	listFn     func(ctx context.Context, limit int) ([]*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) List(ctx context.Context, limit int) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

// --- テスト ---

func TestService_List_ClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"0は1件", 0, 1},
		{"負数は1件", -5, 1},
		{"範囲内はそのまま", 10, 10},
		{"上限を超えたら100件", 1000, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got int
			repo := &mockUserRepo{
				listFn: func(ctx context.Context, limit int) ([]*model.User, error) {
					got = limit
					return []*model.User{{ID: "user-1"}}, nil
				},
			}

			users, err := NewService(repo, nil).List(context.Background(), tt.limit)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("limit passed to repo = %d, want %d", got, tt.want)
			}
			if len(users) != 1 {
				t.Errorf("len(users) = %d, want 1", len(users))
			}
		})
	}
}

func TestService_List_NilResultBecomesEmptySlice(t *testing.T) {
	users, err := NewService(&mockUserRepo{}, nil).List(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(users) != 0 {
		t.Errorf("len(users) = %d, want 0", len(users))
	}
}

func TestService_List_RepositoryError(t *testing.T) {
	dbErr := errors.New("connection refused")
	repo := &mockUserRepo{
		listFn: func(ctx context.Context, limit int) ([]*model.User, error) {
			return nil, dbErr
		},
	}

	_, err := NewService(repo, nil).List(context.Background(), 1)
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
}

func TestService_Get(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id == "user-1" {
				return &model.User{ID: "user-1", Name: "Alice"}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, nil)

	u, err := svc.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", u.Name)
	}

	_, err = svc.Get(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("error = %v, want USER_NOT_FOUND", err)
	}
}
