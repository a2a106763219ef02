package db

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	_ "github.com/lib/pq"

	"studyscope/internal/config"
	"studyscope/internal/store"
)

// StudyChunk is one mirrored chunk with its embedding.
type StudyChunk struct {
	bun.BaseModel `bun:"table:study_chunks,alias:sc"`
	ID            int64           `bun:"id,pk,autoincrement"`
	Subject       string          `bun:"subject,notnull"`
	Position      int             `bun:"position,notnull"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Score         float64         `bun:"score,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the configured database. Driver "postgres" goes through lib/pq,
// anything else through bun's pgdriver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, goerr.New("database dsn is not configured")
	}
	if cfg.Driver == "postgres" {
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open database", goerr.V("driver", cfg.Driver))
		}
		return sqldb, nil
	}

	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return goerr.Wrap(err, "failed to enable pgvector")
	}
	if _, err := db.NewCreateTable().Model((*StudyChunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return goerr.Wrap(err, "failed to create study_chunks")
	}
	return nil
}

// ReplaceSubject swaps the mirrored rows of subject for rows in one transaction.
func ReplaceSubject(ctx context.Context, db *bun.DB, subject string, rows []StudyChunk) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*StudyChunk)(nil)).Where("subject = ?", subject).Exec(ctx); err != nil {
			return goerr.Wrap(err, "failed to delete mirrored chunks", goerr.V("subject", subject))
		}
		if len(rows) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return goerr.Wrap(err, "failed to insert mirrored chunks", goerr.V("subject", subject))
		}
		return nil
	})
}

// MirrorSubject copies the committed chunks and embeddings of subject into Postgres
// and returns the number of rows written.
func MirrorSubject(ctx context.Context, db *bun.DB, st *store.Store, subject string) (int, error) {
	data, err := st.Load(ctx, subject)
	if err != nil {
		return 0, err
	}

	rows := make([]StudyChunk, 0, len(data.Chunks))
	for _, c := range data.Chunks {
		vec, err := data.Index.Embedding(ctx, c.Position)
		if err != nil {
			return 0, err
		}
		rows = append(rows, StudyChunk{
			Subject:   subject,
			Position:  c.Position,
			Content:   c.Content,
			Source:    c.Source,
			Embedding: pgvector.NewVector(vec),
		})
	}

	if err := ReplaceSubject(ctx, db, subject, rows); err != nil {
		return 0, err
	}
	log.Info().Str("subject", subject).Int("rows", len(rows)).Msg("Mirrored subject to database")
	return len(rows), nil
}

// SearchChunks returns the limit chunks of subject with the highest inner product
// to query. Score holds the inner product.
func SearchChunks(ctx context.Context, db *bun.DB, subject string, query []float32, limit int) ([]StudyChunk, error) {
	vec := pgvector.NewVector(query)
	var chunks []StudyChunk
	err := db.NewSelect().
		Model(&chunks).
		Column("id", "subject", "position", "content", "source").
		ColumnExpr("(embedding <#> ?) * -1 AS score", vec).
		Where("subject = ?", subject).
		OrderExpr("embedding <#> ?", vec).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search chunks", goerr.V("subject", subject))
	}
	return chunks, nil
}

func DropChunks(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*StudyChunk)(nil)).IfExists().Exec(ctx)
	return err
}
