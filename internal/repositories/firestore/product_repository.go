package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog products and adjusts their stock counters.
type ProductRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// FindByIDs loads the requested products. Unknown IDs are absent from the result map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	ids := uniqueIDs(productIDs)
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	snaps, err := pfirestore.GetDocuments(ctx, "products.get_all", client, refs)
	if err != nil {
		return nil, err
	}
	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		product, err := decodeProduct(snap)
		if err != nil {
			return nil, err
		}
		products[product.ID] = product
	}
	return products, nil
}

// ReserveStock decrements stock for every line, or for none of them. Outside a unit of work it opens its
// own transaction so the check-then-write stays atomic.
func (r *ProductRepository) ReserveStock(ctx context.Context, lines []domain.StockLine) error {
	if _, ok := pfirestore.TransactionFromContext(ctx); !ok {
		return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
			return r.reserve(txCtx, lines)
		})
	}
	return r.reserve(ctx, lines)
}

func (r *ProductRepository) reserve(ctx context.Context, lines []domain.StockLine) error {
	requested, order, err := aggregateLines(lines)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	refs := make([]*firestore.DocumentRef, 0, len(order))
	for _, id := range order {
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	snaps, err := pfirestore.GetDocuments(ctx, "products.reserve_read", client, refs)
	if err != nil {
		return err
	}

	remaining := make(map[string]int, len(order))
	var shortages []repositories.StockShortage
	for i, snap := range snaps {
		id := order[i]
		if snap == nil || !snap.Exists() {
			e := repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", id), nil)
			e.Op = "products.reserve"
			return e
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return pfirestore.WrapError("products.decode", err)
		}
		if doc.Stock < requested[id] {
			shortages = append(shortages, repositories.StockShortage{
				ProductRef: id,
				Available:  doc.Stock,
				Requested:  requested[id],
			})
			continue
		}
		remaining[id] = doc.Stock - requested[id]
	}
	if len(shortages) > 0 {
		return repositories.NewInsufficientStockError("products.reserve", shortages)
	}

	now := r.now()
	for i, id := range order {
		if err := pfirestore.UpdateDocument(ctx, "products.reserve_write", refs[i], []firestore.Update{
			{Path: "stock", Value: remaining[id]},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreStock increments stock for every line. It issues no reads, so it may follow writes in a transaction.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []domain.StockLine) error {
	requested, order, err := aggregateLines(lines)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	now := r.now()
	for _, id := range order {
		ref := client.Collection(productsCollection).Doc(id)
		if err := pfirestore.UpdateDocument(ctx, "products.restore", ref, []firestore.Update{
			{Path: "stock", Value: firestore.Increment(requested[id])},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

// aggregateLines sums quantities per product and returns the IDs sorted so concurrent reservations touch
// documents in the same order.
func aggregateLines(lines []domain.StockLine) (map[string]int, []string, error) {
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductRef)
		if id == "" {
			return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product reference is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, nil, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("quantity for %s must be > 0", id), nil)
		}
		requested[id] += line.Quantity
	}
	order := make([]string, 0, len(requested))
	for id := range requested {
		order = append(order, id)
	}
	sort.Strings(order)
	return requested, order, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type productDocument struct {
	Name          string         `firestore:"name"`
	Description   string         `firestore:"description,omitempty"`
	Type          string         `firestore:"type,omitempty"`
	Category      string         `firestore:"category,omitempty"`
	Tags          []string       `firestore:"tags,omitempty"`
	Images        []string       `firestore:"images,omitempty"`
	Size          string         `firestore:"size,omitempty"`
	Price         int64          `firestore:"price"`
	DiscountPrice int64          `firestore:"discountPrice,omitempty"`
	Stock         int            `firestore:"stock"`
	Attributes    map[string]any `firestore:"attributes,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt"`
	UpdatedAt     time.Time      `firestore:"updatedAt"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, pfirestore.WrapError("products.decode", err)
	}
	return domain.Product{
		ID:            snap.Ref.ID,
		Name:          doc.Name,
		Description:   doc.Description,
		Type:          doc.Type,
		CategoryRef:   doc.Category,
		Tags:          append([]string(nil), doc.Tags...),
		Images:        append([]string(nil), doc.Images...),
		Size:          doc.Size,
		Price:         doc.Price,
		DiscountPrice: doc.DiscountPrice,
		Stock:         doc.Stock,
		Attributes:    cloneAnyMap(doc.Attributes),
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}, nil
}
