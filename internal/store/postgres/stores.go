package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/maraichr/sheetflow/pkg/models"
)

type InsertStoreParams struct {
	UploadID   uuid.UUID
	ChunkIndex int
	RowNumber  int
	Record     models.StoreRecord
}

// InsertStore writes one destination row. Empty optional text columns are
// stored as NULL.
func (q *Queries) InsertStore(ctx context.Context, arg InsertStoreParams) error {
	lon, err := parseCoordinate(arg.Record.Longitude)
	if err != nil {
		return fmt.Errorf("store_longitude: %w", err)
	}
	lat, err := parseCoordinate(arg.Record.Latitude)
	if err != nil {
		return fmt.Errorf("store_latitude: %w", err)
	}
	r := arg.Record
	_, err = q.db.Exec(ctx,
		`INSERT INTO stores (upload_id, chunk_index, row_number, store_name, store_address,
		     city_name, region_name, retailer_name, store_type, store_longitude, store_latitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		arg.UploadID, arg.ChunkIndex, arg.RowNumber, r.StoreName, nullIfEmpty(r.StoreAddress),
		nullIfEmpty(r.CityName), nullIfEmpty(r.RegionName), nullIfEmpty(r.RetailerName),
		nullIfEmpty(r.StoreType), lon, lat)
	return err
}

func (q *Queries) CountStores(ctx context.Context, uploadID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM stores WHERE upload_id = $1`, uploadID).Scan(&n)
	return n, err
}

func parseCoordinate(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
