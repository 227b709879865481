package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository reads carts keyed by user ID.
type CartRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetCart returns the user's cart. A missing document yields an empty cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	snap, err := pfirestore.GetDocument(ctx, "carts.get", ref)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Cart{UserID: userID}, nil
		}
		return domain.Cart{}, err
	}

	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.decode", err)
	}
	cart := domain.Cart{
		UserID:    userID,
		Items:     make([]domain.CartItem, 0, len(doc.Items)),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductRef: item.Product, Quantity: item.Quantity})
	}
	return cart, nil
}

// ClearCart empties the item list. Clearing an already empty or missing cart succeeds.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return err
	}
	return pfirestore.SetDocument(ctx, "carts.clear", ref, map[string]any{
		"items":     []cartItemDocument{},
		"updatedAt": r.now(),
	}, firestore.MergeAll)
}

func (r *CartRepository) doc(ctx context.Context, userID string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(cartCollection).Doc(userID), nil
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	Product  string `firestore:"product"`
	Quantity int    `firestore:"quantity"`
}
