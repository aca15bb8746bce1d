package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// MySQLAdapter is the system-of-record implementation of the storage ports.
// Stock debits are a single conditional UPDATE, so the check and the write
// commit as one atomic unit under InnoDB's row lock; unrelated keys never
// contend.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// storageErr keeps the driver detail while staying matchable as an
// infrastructure failure.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrStorageUnavailable)
}

const mysqlLockWaitTimeout = 1205

// lockErr classifies errors on the lock-acquiring write paths. A lock-wait
// timeout (or the caller's deadline expiring while waiting) committed nothing
// and is retryable, so it surfaces as ErrConcurrencyTimeout rather than an
// infrastructure failure.
func lockErr(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlLockWaitTimeout {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrConcurrencyTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrConcurrencyTimeout)
	}
	return storageErr(op, err)
}

// Inventory ledger

func (m *MySQLAdapter) TryDebit(ctx context.Context, key domain.StockKey, amount int) (domain.DebitResult, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DebitResult{}, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = quantity - ?, version = version + 1, updated_at = NOW()
		WHERE workstation_id = ? AND item_type = ? AND item_id = ? AND quantity >= ?`,
		amount, key.WorkstationID, key.ItemType, key.ItemID, amount,
	)
	if err != nil {
		return domain.DebitResult{}, lockErr("debit stock", err)
	}
	rows, _ := result.RowsAffected()

	var quantity int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records
		WHERE workstation_id = ? AND item_type = ? AND item_id = ?`,
		key.WorkstationID, key.ItemType, key.ItemID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		// Never adjusted: insufficient by definition.
		return domain.DebitResult{Debited: false, Quantity: 0}, nil
	}
	if err != nil {
		return domain.DebitResult{}, lockErr("read stock", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.DebitResult{}, lockErr("commit debit", err)
	}
	return domain.DebitResult{Debited: rows == 1, Quantity: quantity}, nil
}

func (m *MySQLAdapter) Credit(ctx context.Context, key domain.StockKey, amount int) (int, error) {
	return m.Adjust(ctx, key, amount, domain.ReasonDebitRollback)
}

func (m *MySQLAdapter) Adjust(ctx context.Context, key domain.StockKey, delta int, reason domain.AdjustReason) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin tx", err)
	}
	defer tx.Rollback()

	// Records are created lazily on first adjustment and never deleted.
	if _, err := tx.ExecContext(ctx, `
		INSERT IGNORE INTO stock_records (workstation_id, item_type, item_id, quantity, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, NOW(), NOW())`,
		key.WorkstationID, key.ItemType, key.ItemID,
	); err != nil {
		return 0, lockErr("create stock record", err)
	}

	if reason.AdministrativeOverride() {
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_records
			SET quantity = GREATEST(quantity + ?, 0), version = version + 1, updated_at = NOW()
			WHERE workstation_id = ? AND item_type = ? AND item_id = ?`,
			delta, key.WorkstationID, key.ItemType, key.ItemID,
		)
		if err != nil {
			return 0, lockErr("adjust stock", err)
		}
	} else {
		result, err := tx.ExecContext(ctx, `
			UPDATE stock_records
			SET quantity = quantity + ?, version = version + 1, updated_at = NOW()
			WHERE workstation_id = ? AND item_type = ? AND item_id = ? AND quantity + ? >= 0`,
			delta, key.WorkstationID, key.ItemType, key.ItemID, delta,
		)
		if err != nil {
			return 0, lockErr("adjust stock", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return 0, domain.ErrInvalidAdjustment
		}
	}

	var quantity int
	if err := tx.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records
		WHERE workstation_id = ? AND item_type = ? AND item_id = ?`,
		key.WorkstationID, key.ItemType, key.ItemID,
	).Scan(&quantity); err != nil {
		return 0, lockErr("read stock", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, lockErr("commit adjustment", err)
	}
	return quantity, nil
}

func (m *MySQLAdapter) Query(ctx context.Context, key domain.StockKey) (int, error) {
	var quantity int
	err := m.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records
		WHERE workstation_id = ? AND item_type = ? AND item_id = ?`,
		key.WorkstationID, key.ItemType, key.ItemID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("query stock", err)
	}
	return quantity, nil
}

// Customer orders

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order *domain.CustomerOrder) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customer_orders (id, order_number, workstation_id, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.WorkstationID, order.Status, order.Notes,
		order.CreatedAt, order.UpdatedAt,
	); err != nil {
		return storageErr("insert order", err)
	}
	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, item_type, item_id, quantity)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, i, item.ItemType, item.ItemID, item.Quantity,
		); err != nil {
			return storageErr("insert order item", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit order", err)
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	var (
		order    domain.CustomerOrder
		scenario sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, order_number, workstation_id, status, trigger_scenario, notes, created_at, updated_at
		FROM customer_orders WHERE id = ?`, orderID,
	).Scan(&order.ID, &order.OrderNumber, &order.WorkstationID, &order.Status,
		&scenario, &order.Notes, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, storageErr("query order", err)
	}
	if scenario.Valid {
		sc := domain.Scenario(scenario.String)
		order.TriggerScenario = &sc
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT item_type, item_id, quantity FROM order_items
		WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, storageErr("query order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ItemType, &item.ItemID, &item.Quantity); err != nil {
			return nil, storageErr("scan order item", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate order items", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) TransitionOrder(ctx context.Context, orderID string, from, to domain.OrderStatus, scenario *domain.Scenario) error {
	var scenarioVal sql.NullString
	if scenario != nil {
		scenarioVal = sql.NullString{String: string(*scenario), Valid: true}
	}
	result, err := m.db.ExecContext(ctx, `
		UPDATE customer_orders
		SET status = ?, trigger_scenario = COALESCE(?, trigger_scenario), updated_at = NOW()
		WHERE id = ? AND status = ?`,
		to, scenarioVal, orderID, from,
	)
	if err != nil {
		return storageErr("transition order", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		err := m.db.QueryRowContext(ctx, `SELECT 1 FROM customer_orders WHERE id = ?`, orderID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return storageErr("check order", err)
		}
		return domain.ErrVersionConflict
	}
	return nil
}

// Downstream orders

// CreateDownstream relies on the unique key over
// (customer_order_id, item_type, item_id): the insert is ignored when a
// downstream order for the shortfall already exists.
func (m *MySQLAdapter) CreateDownstream(ctx context.Context, order *domain.DownstreamOrder) (*domain.DownstreamOrder, bool, error) {
	result, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO downstream_orders
			(id, customer_order_id, kind, scenario, item_type, item_id, shortfall_qty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.CustomerOrderID, order.Kind, order.Scenario,
		order.ItemType, order.ItemID, order.ShortfallQty, order.Status,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, false, storageErr("insert downstream order", err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return order, true, nil
	}

	existing, err := m.getDownstreamWhere(ctx,
		`customer_order_id = ? AND item_type = ? AND item_id = ?`,
		order.CustomerOrderID, order.ItemType, order.ItemID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (m *MySQLAdapter) GetDownstream(ctx context.Context, id string) (*domain.DownstreamOrder, error) {
	return m.getDownstreamWhere(ctx, `id = ?`, id)
}

func (m *MySQLAdapter) getDownstreamWhere(ctx context.Context, where string, args ...any) (*domain.DownstreamOrder, error) {
	var order domain.DownstreamOrder
	err := m.db.QueryRowContext(ctx, `
		SELECT id, customer_order_id, kind, scenario, item_type, item_id, shortfall_qty, status, created_at, updated_at
		FROM downstream_orders WHERE `+where, args...,
	).Scan(&order.ID, &order.CustomerOrderID, &order.Kind, &order.Scenario,
		&order.ItemType, &order.ItemID, &order.ShortfallQty, &order.Status,
		&order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDownstreamNotFound
	}
	if err != nil {
		return nil, storageErr("query downstream order", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) MarkDownstreamFulfilled(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE downstream_orders SET status = ?, updated_at = NOW() WHERE id = ?`,
		domain.DownstreamStatusFulfilled, id,
	)
	if err != nil {
		return storageErr("mark downstream fulfilled", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Already fulfilled rows report zero affected on some drivers; verify.
		if _, err := m.GetDownstream(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *MySQLAdapter) ListDownstreamByOrder(ctx context.Context, customerOrderID string) ([]*domain.DownstreamOrder, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, customer_order_id, kind, scenario, item_type, item_id, shortfall_qty, status, created_at, updated_at
		FROM downstream_orders WHERE customer_order_id = ? ORDER BY created_at`, customerOrderID)
	if err != nil {
		return nil, storageErr("list downstream orders", err)
	}
	defer rows.Close()

	var out []*domain.DownstreamOrder
	for rows.Next() {
		var order domain.DownstreamOrder
		if err := rows.Scan(&order.ID, &order.CustomerOrderID, &order.Kind, &order.Scenario,
			&order.ItemType, &order.ItemID, &order.ShortfallQty, &order.Status,
			&order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, storageErr("scan downstream order", err)
		}
		out = append(out, &order)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate downstream orders", err)
	}
	return out, nil
}

// Configuration

const thresholdSetting = "LOT_SIZE_THRESHOLD"

// EnsureThreshold seeds the lot-size threshold if no admin has set one yet.
func (m *MySQLAdapter) EnsureThreshold(ctx context.Context, value int) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO config_settings (name, value, updated_by, updated_at)
		VALUES (?, ?, 'system', NOW())`,
		thresholdSetting, value,
	)
	if err != nil {
		return storageErr("seed threshold", err)
	}
	return nil
}

func (m *MySQLAdapter) Threshold(ctx context.Context) (int, error) {
	var value int
	err := m.db.QueryRowContext(ctx, `
		SELECT value FROM config_settings WHERE name = ?`, thresholdSetting,
	).Scan(&value)
	if err != nil {
		return 0, storageErr("read threshold", err)
	}
	return value, nil
}

func (m *MySQLAdapter) SetThreshold(ctx context.Context, value int, updatedBy string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO config_settings (name, value, updated_by, updated_at)
		VALUES (?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_by = VALUES(updated_by), updated_at = NOW()`,
		thresholdSetting, value, updatedBy,
	)
	if err != nil {
		return storageErr("set threshold", err)
	}
	return nil
}

// Stock movements

func (m *MySQLAdapter) InsertMovement(ctx context.Context, mv domain.StockMovement) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_movements (id, workstation_id, item_type, item_id, delta, reason, order_id, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.Key.WorkstationID, mv.Key.ItemType, mv.Key.ItemID,
		mv.Delta, mv.Reason, mv.OrderID, mv.Actor, mv.CreatedAt,
	)
	if err != nil {
		return storageErr("insert stock movement", err)
	}
	return nil
}
