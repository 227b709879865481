package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

// The helpers below route reads and writes through the transaction bound to ctx when there is one, so a
// repository method behaves the same inside and outside RunInTx.

// GetDocument loads a single document.
func GetDocument(ctx context.Context, op string, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	var (
		snap *firestore.DocumentSnapshot
		err  error
	)
	if tx, ok := TransactionFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return nil, WrapError(op, err)
	}
	return snap, nil
}

// GetDocuments loads several documents in one round trip. Missing documents come back with Exists() false.
func GetDocuments(ctx context.Context, op string, client *firestore.Client, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if tx, ok := TransactionFromContext(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		snaps, err = client.GetAll(ctx, refs)
	}
	if err != nil {
		return nil, WrapError(op, err)
	}
	return snaps, nil
}

// QueryDocuments executes the query and returns every matching snapshot.
func QueryDocuments(ctx context.Context, op string, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	var iter *firestore.DocumentIterator
	if tx, ok := TransactionFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	snaps, err := iter.GetAll()
	if err != nil {
		return nil, WrapError(op, err)
	}
	return snaps, nil
}

// CreateDocument writes a new document and fails with a conflict when it already exists.
func CreateDocument(ctx context.Context, op string, ref *firestore.DocumentRef, data any) error {
	var err error
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Create(ref, data)
	} else {
		_, err = ref.Create(ctx, data)
	}
	return WrapError(op, err)
}

// SetDocument overwrites or merges the document.
func SetDocument(ctx context.Context, op string, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	var err error
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Set(ref, data, opts...)
	} else {
		_, err = ref.Set(ctx, data, opts...)
	}
	return WrapError(op, err)
}

// UpdateDocument applies field updates. The document must exist.
func UpdateDocument(ctx context.Context, op string, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if len(updates) == 0 {
		return nil
	}
	var err error
	if tx, ok := TransactionFromContext(ctx); ok {
		err = tx.Update(ref, updates)
	} else {
		_, err = ref.Update(ctx, updates)
	}
	return WrapError(op, err)
}
