package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore keeps collections and embeddings in the tables created by
// db/migrations/0001_vector_storage.up.sql and searches with pgvector.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Backend() string { return "postgres" }

const collectionColumns = `id, name, description, dimensions, metadata, is_public, index_type, index_params, created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	metadata, indexParams, err := marshalCollectionJSON(c)
	if err != nil {
		return Collection{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO vector_collections (id, name, description, dimensions, metadata, is_public, index_type, index_params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+collectionColumns,
		c.ID, c.Name, c.Description, c.Dimensions, metadata, c.IsPublic, string(c.IndexType), indexParams, c.CreatedAt,
	)
	out, err := scanCollection(row)
	if isUniqueViolation(err) {
		return Collection{}, ErrCollectionExists
	}
	if err != nil {
		return Collection{}, fmt.Errorf("insert collection: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetCollection(ctx context.Context, id string) (Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM vector_collections WHERE id=$1`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if err != nil {
		return Collection{}, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateCollection(ctx context.Context, c Collection) (Collection, error) {
	metadata, indexParams, err := marshalCollectionJSON(c)
	if err != nil {
		return Collection{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE vector_collections
		SET name=$2, description=$3, metadata=$4, is_public=$5, index_type=$6, index_params=$7, updated_at=$8
		WHERE id=$1
		RETURNING `+collectionColumns,
		c.ID, c.Name, c.Description, metadata, c.IsPublic, string(c.IndexType), indexParams, c.UpdatedAt,
	)
	out, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	if isUniqueViolation(err) {
		return Collection{}, ErrCollectionExists
	}
	if err != nil {
		return Collection{}, fmt.Errorf("update collection: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vector_collections SET deleted_at=$2, updated_at=$2
		WHERE id=$1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already deleted; only the former is an error.
		if _, err := s.GetCollection(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AddEmbeddings(ctx context.Context, collectionID string, embeddings []Embedding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		dimensions int
		deletedAt  sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `SELECT dimensions, deleted_at FROM vector_collections WHERE id=$1 FOR SHARE`, collectionID).
		Scan(&dimensions, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup collection: %w", err)
	}
	if deletedAt.Valid {
		return ErrCollectionDeleted
	}
	if err := checkDimensions(Collection{ID: collectionID, Dimensions: dimensions}, embeddings); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_embeddings (id, collection_id, embedding, text, metadata, created_at, updated_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6, $6)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert embedding: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		metadata, err := json.Marshal(nonNil(e.Metadata))
		if err != nil {
			return fmt.Errorf("marshal embedding metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, collectionID, formatVector(e.Vector), e.Text, metadata, e.CreatedAt); err != nil {
			return fmt.Errorf("insert embedding %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embeddings: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchSimilar(ctx context.Context, collectionID string, q Query) ([]SearchResult, error) {
	limit, minSimilarity := q.params()
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if len(q.Vector) != c.Dimensions {
		return nil, ErrDimensionMismatch
	}

	rows, err := s.db.QueryContext(ctx, searchStatement(c.Dimensions),
		collectionID, formatVector(q.Vector), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	out := make([]SearchResult, 0)
	for rows.Next() {
		var (
			r        SearchResult
			vec      string
			metadata []byte
		)
		if err := rows.Scan(&r.ID, &r.CollectionID, &vec, &r.Text, &metadata, &r.CreatedAt, &r.UpdatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if r.Vector, err = parseVector(vec); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode embedding metadata: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateIndex builds a partial pgvector index over one collection's rows and
// records the options on the collection.
func (s *PostgresStore) CreateIndex(ctx context.Context, collectionID string, opts IndexOptions) error {
	opts = opts.withDefaults()
	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	stmt, err := indexStatement(c, opts)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	indexParams, err := json.Marshal(opts.params())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE vector_collections SET index_type=$2, index_params=$3, updated_at=NOW() WHERE id=$1
	`, collectionID, string(opts.Type), indexParams); err != nil {
		return fmt.Errorf("record index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var safeIdentifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var operatorClasses = map[Metric]string{
	MetricCosine:       "vector_cosine_ops",
	MetricL2:           "vector_l2_ops",
	MetricInnerProduct: "vector_ip_ops",
}

// indexStatement renders the CREATE INDEX for a collection. The embedding
// column is untyped, so the index expression casts to the collection's
// dimensions.
func indexStatement(c Collection, opts IndexOptions) (string, error) {
	if !safeIdentifier.MatchString(c.ID) {
		return "", fmt.Errorf("collection id %q cannot be used in an index name", c.ID)
	}
	ops, ok := operatorClasses[opts.Metric]
	if !ok {
		return "", fmt.Errorf("unsupported metric %q", opts.Metric)
	}
	var with string
	switch opts.Type {
	case IndexIVFFlat:
		with = fmt.Sprintf("WITH (lists = %d)", opts.Lists)
	case IndexHNSW:
		with = "WITH (m = 16, ef_construction = 64)"
	default:
		return "", fmt.Errorf("unsupported index type %q", opts.Type)
	}
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_embeddings_%s ON vector_embeddings USING %s ((embedding::vector(%d)) %s) %s WHERE collection_id = '%s'",
		strings.ToLower(c.ID), opts.Type, c.Dimensions, ops, with, c.ID,
	), nil
}

// searchStatement ranks a collection's rows by cosine distance. Both sides
// are cast to the collection's dimensions so the ORDER BY matches the
// expression of the partial index built by indexStatement.
func searchStatement(dims int) string {
	dist := fmt.Sprintf("embedding::vector(%d) <=> $2::vector(%d)", dims, dims)
	return `SELECT id, collection_id, embedding::text, text, metadata, created_at, updated_at, 1 - (` + dist + `) AS similarity
		FROM vector_embeddings
		WHERE collection_id = $1 AND 1 - (` + dist + `) >= $3
		ORDER BY ` + dist + `
		LIMIT $4`
}

// formatVector renders v in pgvector's text form, e.g. "[1,0.5,-2]".
func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector value %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (Collection, error) {
	var (
		c           Collection
		indexType   string
		metadata    []byte
		indexParams []byte
		deletedAt   sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Dimensions, &metadata, &c.IsPublic, &indexType, &indexParams, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return Collection{}, err
	}
	c.IndexType = IndexType(indexType)
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return Collection{}, fmt.Errorf("decode collection metadata: %w", err)
	}
	if err := json.Unmarshal(indexParams, &c.IndexParams); err != nil {
		return Collection{}, fmt.Errorf("decode index params: %w", err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return c, nil
}

func marshalCollectionJSON(c Collection) (metadata, indexParams []byte, err error) {
	if metadata, err = json.Marshal(nonNil(c.Metadata)); err != nil {
		return nil, nil, fmt.Errorf("marshal collection metadata: %w", err)
	}
	if indexParams, err = json.Marshal(nonNil(c.IndexParams)); err != nil {
		return nil, nil, fmt.Errorf("marshal index params: %w", err)
	}
	return metadata, indexParams, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
