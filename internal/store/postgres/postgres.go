package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"beanpos/backend/internal/domain"
	"beanpos/backend/internal/pricing"
	"beanpos/backend/internal/store"
	"beanpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables the store needs if they do not exist yet
// and inserts the singleton settings row.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price_cents BIGINT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			stock INT NOT NULL,
			low_stock_threshold INT NOT NULL DEFAULT 0,
			position SERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS stock_logs (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			quantity_change INT NOT NULL,
			new_stock INT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			acting_user TEXT NOT NULL DEFAULT '',
			seq SERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			lines JSONB NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			discount_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			total_cents BIGINT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT '',
			cashier TEXT NOT NULL DEFAULT '',
			branch_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS branches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INT PRIMARY KEY,
			tax_rate_percent DOUBLE PRECISION NOT NULL,
			currency_code TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			branch_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`INSERT INTO settings (id, tax_rate_percent, currency_code)
			VALUES (1, %v, 'USD') ON CONFLICT (id) DO NOTHING`, pricing.DefaultTaxRatePercent),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price_cents, image_url, stock, low_stock_threshold
		FROM products
		ORDER BY position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.ImageURL, &p.Stock, &p.LowStockThreshold); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price_cents, image_url, stock, low_stock_threshold
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.ImageURL, &p.Stock, &p.LowStockThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, actingUser string) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if product.PriceCents < 0 || product.Stock < 0 {
		return nil, fmt.Errorf("%w: price and stock cannot be negative", store.ErrValidation)
	}
	if product.ID == "" {
		product.ID = xid.New("p")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, category, price_cents, image_url, stock, low_stock_threshold)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Name, product.Category, product.PriceCents, product.ImageURL, product.Stock, product.LowStockThreshold)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s already exists", store.ErrValidation, product.ID)
		}
		return nil, err
	}

	if err := insertStockLog(ctx, tx, product, product.Stock, domain.StockLogInitial, "Initial stock", actingUser); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

// UpdateProduct writes descriptive fields only. Stock stays whatever the log
// operations last set it to.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, image_url = $5, low_stock_threshold = $6, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.PriceCents, product.ImageURL, product.LowStockThreshold)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}

func (s *Store) ReplaceProducts(ctx context.Context, products []domain.Product, actingUser string) error {
	for _, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: product name is required", store.ErrValidation)
		}
		if p.PriceCents < 0 || p.Stock < 0 {
			return fmt.Errorf("%w: price and stock cannot be negative for %q", store.ErrValidation, p.Name)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	priorStock := make(map[string]int)
	rows, err := tx.QueryContext(ctx, `SELECT id, stock FROM products`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			rows.Close()
			return err
		}
		priorStock[id] = stock
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return err
	}
	for _, p := range products {
		if p.ID == "" {
			p.ID = xid.New("p")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, category, price_cents, image_url, stock, low_stock_threshold)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, p.ID, p.Name, p.Category, p.PriceCents, p.ImageURL, p.Stock, p.LowStockThreshold)
		if err != nil {
			return err
		}
		if delta := p.Stock - priorStock[p.ID]; delta != 0 {
			if err := insertStockLog(ctx, tx, p, delta, domain.StockLogImport, "CSV import", actingUser); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int, logType string, reason string, actingUser string) (*domain.StockLogEntry, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: quantity change cannot be zero", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var product domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, stock FROM products WHERE id = $1 FOR UPDATE
	`, productID).Scan(&product.ID, &product.Name, &product.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	newStock := product.Stock + delta
	if newStock < 0 {
		return nil, &store.StockError{ProductID: productID, Requested: -delta, Available: product.Stock}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = $2, updated_at = now() WHERE id = $1
	`, productID, newStock); err != nil {
		return nil, err
	}

	product.Stock = newStock
	entry := domain.StockLogEntry{
		ID:             xid.New("log"),
		ProductID:      product.ID,
		ProductName:    product.Name,
		QuantityChange: delta,
		NewStock:       newStock,
		Reason:         reason,
		Type:           logType,
		User:           actingUser,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_logs (id, product_id, product_name, quantity_change, new_stock, reason, type, acting_user, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ProductID, entry.ProductName, entry.QuantityChange, entry.NewStock, entry.Reason, entry.Type, entry.User, entry.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListStockLogs(ctx context.Context, limit int) ([]domain.StockLogEntry, error) {
	query := `
		SELECT id, product_id, product_name, quantity_change, new_stock, reason, type, acting_user, created_at
		FROM stock_logs
		ORDER BY seq DESC
	`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.StockLogEntry, 0, 64)
	for rows.Next() {
		var e domain.StockLogEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.ProductName, &e.QuantityChange, &e.NewStock, &e.Reason, &e.Type, &e.User, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// CreateOrder runs the checkout in one serializable transaction: lock every
// referenced product row, validate aggregate stock, freeze snapshots,
// recompute totals, decrement stock and append the sale log entries.
func (s *Store) CreateOrder(ctx context.Context, draft domain.OrderDraft) (*domain.Order, error) {
	if len(draft.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	for _, line := range draft.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", store.ErrValidation)
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	products := map[string]domain.Product{}
	demand := map[string]int{}
	for _, line := range draft.Lines {
		if _, seen := products[line.ProductID]; !seen {
			var p domain.Product
			err := tx.QueryRowContext(ctx, `
				SELECT id, name, price_cents, stock FROM products WHERE id = $1 FOR UPDATE
			`, line.ProductID).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, fmt.Errorf("%w: product %s is no longer available", store.ErrValidation, line.ProductID)
				}
				return nil, err
			}
			products[line.ProductID] = p
		}
		demand[line.ProductID] += line.Quantity
		if demand[line.ProductID] > products[line.ProductID].Stock {
			return nil, &store.StockError{ProductID: line.ProductID, Requested: demand[line.ProductID], Available: products[line.ProductID].Stock}
		}
	}

	orderLines := make([]domain.OrderLine, 0, len(draft.Lines))
	priced := make([]pricing.Line, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		p := products[line.ProductID]
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: p.PriceCents,
			Notes:          line.Notes,
		})
		priced = append(priced, pricing.Line{UnitPriceCents: p.PriceCents, Quantity: line.Quantity})
	}
	totals := pricing.Compute(priced, draft.Discount, draft.TaxRatePercent)

	order := domain.Order{
		ID:            xid.New("order"),
		CreatedAt:     time.Now().UTC(),
		Lines:         orderLines,
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
		PaymentMethod: draft.PaymentMethod,
		Cashier:       draft.Cashier,
		BranchID:      draft.BranchID,
	}

	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, created_at, lines, subtotal_cents, discount_cents, tax_cents, total_cents, payment_method, cashier, branch_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, order.ID, order.CreatedAt, linesJSON, order.SubtotalCents, order.DiscountCents, order.TaxCents, order.TotalCents, order.PaymentMethod, order.Cashier, order.BranchID); err != nil {
		return nil, err
	}

	for _, line := range draft.Lines {
		p := products[line.ProductID]
		p.Stock -= line.Quantity
		products[line.ProductID] = p

		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = $2, updated_at = now() WHERE id = $1
		`, p.ID, p.Stock); err != nil {
			return nil, err
		}
		if err := insertStockLog(ctx, tx, p, -line.Quantity, domain.StockLogSale, "Sale #"+order.ID, draft.Cashier); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, lines, subtotal_cents, discount_cents, tax_cents, total_cents, payment_method, cashier, branch_id
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, lines, subtotal_cents, discount_cents, tax_cents, total_cents, payment_method, cashier, branch_id
		FROM orders
		WHERE id = $1
	`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location FROM branches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Location); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT tax_rate_percent, currency_code FROM settings WHERE id = 1
	`).Scan(&settings.TaxRatePercent, &settings.CurrencyCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Settings{TaxRatePercent: pricing.DefaultTaxRatePercent, CurrencyCode: "USD"}, nil
		}
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if settings.TaxRatePercent < 0 || settings.TaxRatePercent > 100 {
		return domain.Settings{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrValidation)
	}
	if settings.CurrencyCode == "" {
		settings.CurrencyCode = "USD"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, tax_rate_percent, currency_code)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET tax_rate_percent = $1, currency_code = $2
	`, settings.TaxRatePercent, settings.CurrencyCode)
	if err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, branch_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Username, user.Password, user.Role, user.BranchID, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %q is taken", store.ErrValidation, user.Username)
		}
		return nil, err
	}
	created := user
	return &created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, branch_id, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.BranchID, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, branch_id, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.BranchID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = COALESCE(NULLIF($2, ''), password_hash), role = $3, branch_id = $4
		WHERE id = $1
	`, user.ID, user.Password, user.Role, user.BranchID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	var u domain.UserAccount
	err = s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, branch_id, created_at FROM users WHERE id = $1
	`, user.ID).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.BranchID, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var linesJSON []byte
	if err := row.Scan(&order.ID, &order.CreatedAt, &linesJSON, &order.SubtotalCents, &order.DiscountCents, &order.TaxCents, &order.TotalCents, &order.PaymentMethod, &order.Cashier, &order.BranchID); err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(linesJSON, &order.Lines); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func insertStockLog(ctx context.Context, tx *sql.Tx, product domain.Product, change int, logType string, reason string, actingUser string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_logs (id, product_id, product_name, quantity_change, new_stock, reason, type, acting_user, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, xid.New("log"), product.ID, product.Name, change, product.Stock, reason, logType, actingUser, time.Now().UTC())
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
