package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vpswatch/internal/model"
)

// PostgresStatusRepo はPostgreSQLを使用した在庫状態リポジトリ。
type PostgresStatusRepo struct {
	db *sql.DB
}

// NewPostgresStatusRepo はPostgresStatusRepoを生成する。
func NewPostgresStatusRepo(db *sql.DB) *PostgresStatusRepo {
	return &PostgresStatusRepo{db: db}
}

// Upsert は(model, datacenter)の在庫状態を原子的にUPSERTする。
// 単一ステートメントのCTEで変更前の状態を取得しつつ書き込むため、
// 同一キーへの並行UPSERTは行ロックで直列化される（最後の成功が勝つ）。
func (r *PostgresStatusRepo) Upsert(ctx context.Context, m model.Model, dc model.Datacenter, status model.Status) (UpsertResult, error) {
	var newStatus string
	var oldStatus sql.NullString

	err := r.db.QueryRowContext(ctx,
		`WITH prev AS (
		    SELECT status FROM status_records WHERE model = $1 AND datacenter = $2
		 ), up AS (
		    INSERT INTO status_records (model, datacenter, status, last_checked, last_changed)
		    VALUES ($1, $2, $3, now(), NULL)
		    ON CONFLICT (model, datacenter) DO UPDATE SET
		        status       = EXCLUDED.status,
		        last_checked = now(),
		        last_changed = CASE WHEN status_records.status IS DISTINCT FROM EXCLUDED.status
		                            THEN now() ELSE status_records.last_changed END,
		        updated_at   = now()
		    RETURNING status
		 )
		 SELECT up.status, prev.status FROM up LEFT JOIN prev ON TRUE`,
		int(m), string(dc), string(status),
	).Scan(&newStatus, &oldStatus)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("在庫状態のUPSERTに失敗しました: %w", err)
	}

	result := UpsertResult{}
	if oldStatus.Valid {
		old := model.Status(oldStatus.String)
		result.OldStatus = &old
		result.Changed = old != model.Status(newStatus)
	} else {
		// 既存レコードなし: ベースライン確立も変更として扱う
		result.Changed = true
	}

	return result, nil
}

// ListAll は全StatusRecordを(model, datacenter)昇順で返す。
func (r *PostgresStatusRepo) ListAll(ctx context.Context) ([]*model.StatusRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT model, datacenter, status, last_checked, last_changed, created_at, updated_at
		 FROM status_records
		 ORDER BY model, datacenter`,
	)
	if err != nil {
		return nil, fmt.Errorf("在庫状態一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanStatusRecords(rows)
}

// ListByModel は指定モデルのStatusRecordをdatacenter昇順で返す。
func (r *PostgresStatusRepo) ListByModel(ctx context.Context, m model.Model) ([]*model.StatusRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT model, datacenter, status, last_checked, last_changed, created_at, updated_at
		 FROM status_records
		 WHERE model = $1
		 ORDER BY datacenter`,
		int(m),
	)
	if err != nil {
		return nil, fmt.Errorf("モデル別在庫状態の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanStatusRecords(rows)
}

// scanStatusRecords は行セットをStatusRecordのスライスに変換する。
func scanStatusRecords(rows *sql.Rows) ([]*model.StatusRecord, error) {
	var records []*model.StatusRecord

	for rows.Next() {
		rec := &model.StatusRecord{}
		var lastChanged sql.NullTime

		if err := rows.Scan(
			&rec.Model, &rec.Datacenter, &rec.Status,
			&rec.LastChecked, &lastChanged, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("在庫状態の読み取りに失敗しました: %w", err)
		}

		if lastChanged.Valid {
			t := lastChanged.Time
			rec.LastChanged = &t
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("在庫状態の走査に失敗しました: %w", err)
	}

	return records, nil
}
