// Package firestore implements the token SetStore on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SetStore implements dispatch.SetStore with one document per member:
// {collection}/{key}/devices/{sha256(member)}.
//
// Create and Delete-with-Exists are single atomic writes, so the changed flag
// needs no transaction.
type SetStore struct {
	client     *firestore.Client
	collection string
}

func NewSetStore(client *firestore.Client, collection string) *SetStore {
	if collection == "" {
		collection = "users"
	}
	return &SetStore{client: client, collection: collection}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	Token     string    `firestore:"token"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (s *SetStore) Add(ctx context.Context, key, member string) (bool, error) {
	record := deviceRecord{
		Token:     member,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.deviceRef(key, member).Create(ctx, record)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("firestore create failed: %w", err)
	}
	return true, nil
}

func (s *SetStore) Remove(ctx context.Context, key, member string) (bool, error) {
	_, err := s.deviceRef(key, member).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("firestore delete failed: %w", err)
	}
	return true, nil
}

func (s *SetStore) Members(ctx context.Context, key string) ([]string, error) {
	iter := s.devicesCollection(key).Documents(ctx)
	defer iter.Stop()

	members := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil || record.Token == "" {
			// Usually safe to skip corrupt rows.
			continue
		}
		members = append(members, record.Token)
	}
	return members, nil
}

// --- Helpers ---

func (s *SetStore) deviceRef(key, member string) *firestore.DocumentRef {
	// Hash of the token as Doc ID: tokens may contain '/' and are long.
	return s.devicesCollection(key).Doc(hashToken(member))
}

func (s *SetStore) devicesCollection(key string) *firestore.CollectionRef {
	return s.client.Collection(s.collection).Doc(key).Collection("devices")
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
