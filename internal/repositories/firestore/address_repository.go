package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/skydish/api/internal/domain"
	pfirestore "github.com/skydish/api/internal/platform/firestore"
	"github.com/skydish/api/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository reads the user address book from Firestore. Writes are owned by the profile service.
type AddressRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get returns a single address owned by userID.
func (r *AddressRepository) Get(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	id := strings.TrimSpace(addressID)
	if id == "" {
		return domain.Address{}, errors.New("address repository: address id is required")
	}
	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.Address{}, pfirestore.WrapError("addresses.get", err)
	}
	addr, err := decodeAddressDocument(snap)
	if err != nil {
		return domain.Address{}, err
	}
	addr.UserID = strings.TrimSpace(userID)
	return addr, nil
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, uid)), nil
}

type addressDocument struct {
	Consignee    string    `firestore:"consignee"`
	Phone        string    `firestore:"phone"`
	ProvinceName string    `firestore:"provinceName"`
	CityName     string    `firestore:"cityName"`
	DistrictName string    `firestore:"districtName"`
	Detail       string    `firestore:"detail"`
	Label        string    `firestore:"label"`
	IsDefault    bool      `firestore:"isDefault"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func decodeAddressDocument(snap *firestore.DocumentSnapshot) (domain.Address, error) {
	var doc addressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Address{}, fmt.Errorf("decode address %s: %w", snap.Ref.ID, err)
	}
	return domain.Address{
		ID:        snap.Ref.ID,
		Consignee: strings.TrimSpace(doc.Consignee),
		Phone:     strings.TrimSpace(doc.Phone),
		Province:  strings.TrimSpace(doc.ProvinceName),
		City:      strings.TrimSpace(doc.CityName),
		District:  strings.TrimSpace(doc.DistrictName),
		Detail:    strings.TrimSpace(doc.Detail),
		Label:     strings.TrimSpace(doc.Label),
		IsDefault: doc.IsDefault,
	}, nil
}
