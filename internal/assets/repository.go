package assets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout sorts lexically in creation order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Repository persists assets, flows, import provenance, jobs and settings.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, f Filter) ([]*Asset, error)
	DeleteAsset(ctx context.Context, id string) error

	CreateFlow(ctx context.Context, f *Flow) error
	GetFlow(ctx context.Context, id string) (*Flow, error)
	ListFlows(ctx context.Context) ([]*Flow, error)

	CreateImport(ctx context.Context, rec *ImportRecord) error
	ListImports(ctx context.Context, fileKey string) ([]*ImportRecord, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	SetJobAsset(ctx context.Context, id, assetID string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const assetColumns = `id, name, url, storage_name, format, size_bytes, device_oem, screen_type, asset_type, source, created_at`

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.URL, a.StorageName, a.Format, a.SizeBytes,
		nullString(a.DeviceOEM), nullString(a.ScreenType), nullString(a.AssetType),
		a.Source, formatTime(a.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanAssets(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// ListAssets applies the filter as AND-ed equality predicates, newest first.
func (r *SQLiteRepository) ListAssets(ctx context.Context, f Filter) ([]*Asset, error) {
	var (
		conds []string
		args  []any
	)
	for _, p := range []struct{ col, val string }{
		{"device_oem", f.DeviceOEM},
		{"screen_type", f.ScreenType},
		{"asset_type", f.AssetType},
		{"format", f.Format},
		{"source", f.Source},
	} {
		if p.val != "" {
			conds = append(conds, p.col+" = ?")
			args = append(args, p.val)
		}
	}

	query := `SELECT ` + assetColumns + ` FROM assets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAssets(rows)
}

func scanAssets(rows *sql.Rows) ([]*Asset, error) {
	defer rows.Close()
	var out []*Asset
	for rows.Next() {
		var a Asset
		var oem, screen, kind sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.StorageName, &a.Format, &a.SizeBytes,
			&oem, &screen, &kind, &a.Source, &createdAt); err != nil {
			return nil, err
		}
		a.DeviceOEM, a.ScreenType, a.AssetType = oem.String, screen.String, kind.String
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteAsset(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM assets WHERE id = ?", id)
	return err
}

// CreateFlow writes the flow and its items in one transaction.
func (r *SQLiteRepository) CreateFlow(ctx context.Context, f *Flow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO flows (id, name, created_at) VALUES (?, ?, ?)`,
		f.ID, f.Name, formatTime(f.CreatedAt)); err != nil {
		return err
	}
	for _, it := range f.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO flow_items (flow_id, position, asset_id, duration, transition)
			VALUES (?, ?, ?, ?, ?)
		`, f.ID, it.Position, it.AssetID, it.Duration, string(it.Transition)); err != nil {
			return fmt.Errorf("flow item %d: %w", it.Position, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetFlow(ctx context.Context, id string) (*Flow, error) {
	var f Flow
	var createdAt string
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM flows WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.CreatedAt = parseTime(createdAt)
	if f.Items, err = r.flowItems(ctx, f.ID); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *SQLiteRepository) flowItems(ctx context.Context, flowID string) ([]FlowItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position, asset_id, duration, transition
		FROM flow_items WHERE flow_id = ? ORDER BY position
	`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FlowItem
	for rows.Next() {
		var it FlowItem
		var transition string
		if err := rows.Scan(&it.Position, &it.AssetID, &it.Duration, &transition); err != nil {
			return nil, err
		}
		it.Transition = parseStoredTransition(transition)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *SQLiteRepository) ListFlows(ctx context.Context) ([]*Flow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM flows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	var flows []*Flow
	for rows.Next() {
		var f Flow
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Name, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		f.CreatedAt = parseTime(createdAt)
		flows = append(flows, &f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, f := range flows {
		items, err := r.flowItems(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		f.Items = items
	}
	return flows, nil
}

func (r *SQLiteRepository) CreateImport(ctx context.Context, rec *ImportRecord) error {
	nodeIDs, err := json.Marshal(rec.NodeIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_records (id, asset_id, source_url, file_key, node_ids, mode, frame_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.AssetID, rec.SourceURL, rec.FileKey, string(nodeIDs), rec.Mode, rec.FrameCount, formatTime(rec.CreatedAt))
	return err
}

// ListImports returns import records, newest first. An empty fileKey lists
// every record.
func (r *SQLiteRepository) ListImports(ctx context.Context, fileKey string) ([]*ImportRecord, error) {
	query := `SELECT id, asset_id, source_url, file_key, node_ids, mode, frame_count, created_at FROM import_records`
	var args []any
	if fileKey != "" {
		query += " WHERE file_key = ?"
		args = append(args, fileKey)
	}
	rows, err := r.db.QueryContext(ctx, query+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var nodeIDs, createdAt string
		if err := rows.Scan(&rec.ID, &rec.AssetID, &rec.SourceURL, &rec.FileKey, &nodeIDs, &rec.Mode, &rec.FrameCount, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(nodeIDs), &rec.NodeIDs); err != nil {
			return nil, fmt.Errorf("import %s node ids: %w", rec.ID, err)
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

const jobColumns = `id, type, status, asset_id, progress, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.Status, nullString(j.AssetID), j.Progress, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(rows)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		var j Job
		var assetID, errMsg sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&j.ID, &j.Type, &j.Status, &assetID, &j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.AssetID = assetID.String
		j.Error = errMsg.String
		j.CreatedAt = parseTime(createdAt)
		j.UpdatedAt = parseTime(updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) SetJobAsset(ctx context.Context, id, assetID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET asset_id = ?, updated_at = ? WHERE id = ?`,
		assetID, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
