package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agromarket/internal/domain/product"
)

const (
	productColumns = `id, name, description, price, stock, COALESCE(category_id, ''), image_url`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	listProductsByCategorySQL = `SELECT ` + productColumns + `
		FROM products WHERE category_id = $1 ORDER BY id`

	searchProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY id`

	listCategoriesSQL = `SELECT id, name FROM categories ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM products WHERE id = ANY($1) ORDER BY id`

	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, description, price, stock, category_id, image_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			category_id = EXCLUDED.category_id,
			image_url = EXCLUDED.image_url`
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	db dbtx
}

func (r *ProductRepository) query(ctx context.Context, sql string, args ...any) ([]product.Product, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

// List returns all products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	products, err := r.query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

func (r *ProductRepository) ListByCategory(ctx context.Context, categoryID string) ([]product.Product, error) {
	products, err := r.query(ctx, listProductsByCategorySQL, categoryID)
	if err != nil {
		return nil, errors.Wrapf(err, "list products of category %q", categoryID)
	}
	return products, nil
}

// Search matches term against product names and descriptions, ignoring case.
func (r *ProductRepository) Search(ctx context.Context, term string) ([]product.Product, error) {
	products, err := r.query(ctx, searchProductsSQL, term)
	if err != nil {
		return nil, errors.Wrapf(err, "search products %q", term)
	}
	return products, nil
}

func (r *ProductRepository) Categories(ctx context.Context) ([]product.Category, error) {
	rows, err := r.db.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Category, error) {
		var c product.Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return categories, nil
}

// GetByID returns a single product. Returns product.ErrNotFound if no product
// matches.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns the products that exist among ids. Missing IDs are
// silently omitted.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	products, err := r.query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return products, nil
}

// PutCategory inserts or replaces a category.
func (r *ProductRepository) PutCategory(ctx context.Context, c product.Category) error {
	if _, err := r.db.Exec(ctx, upsertCategorySQL, c.ID, c.Name); err != nil {
		return errors.Wrapf(err, "put category %q", c.ID)
	}
	return nil
}

// Put inserts or replaces a product.
func (r *ProductRepository) Put(ctx context.Context, p product.Product) error {
	_, err := r.db.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.CategoryID, p.ImageURL,
	)
	if err != nil {
		return errors.Wrapf(err, "put product %q", p.ID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		stock int32
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &stock, &p.CategoryID, &p.ImageURL)
	p.Stock = int(stock)
	return p, err
}
