package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pizzacraft/api/internal/auth"
	"github.com/pizzacraft/api/internal/config"
	"github.com/pizzacraft/api/internal/enum"
	"github.com/pizzacraft/api/internal/logger"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type seedItem struct {
	name        string
	category    string
	description string
	price       string
	stock       int32
	threshold   int32
	unit        string
}

// starterCatalog is the menu a fresh install opens with.
var starterCatalog = []seedItem{
	{"Classic Thin Crust", enum.CategoryBase, "Light, crispy, and traditional", "0", 50, 20, "pieces"},
	{"Thick Crust", enum.CategoryBase, "Fluffy and filling base", "150", 40, 15, "pieces"},
	{"Stuffed Crust", enum.CategoryBase, "Cheese-filled crust edges", "300", 30, 10, "pieces"},
	{"Gluten-Free", enum.CategoryBase, "Made with alternative flour", "200", 25, 10, "pieces"},
	{"Whole Wheat", enum.CategoryBase, "Healthy whole grain option", "80", 35, 15, "pieces"},

	{"Classic Tomato", enum.CategorySauce, "Traditional pizza sauce", "0", 100, 30, "servings"},
	{"BBQ Sauce", enum.CategorySauce, "Sweet and tangy BBQ", "80", 80, 25, "servings"},
	{"White Sauce", enum.CategorySauce, "Creamy garlic alfredo", "120", 70, 20, "servings"},
	{"Pesto", enum.CategorySauce, "Fresh basil pesto", "150", 60, 15, "servings"},
	{"Buffalo Sauce", enum.CategorySauce, "Spicy buffalo wing sauce", "120", 50, 15, "servings"},

	{"Mozzarella", enum.CategoryCheese, "Classic stretchy cheese", "0", 200, 50, "servings"},
	{"Cheddar", enum.CategoryCheese, "Sharp and flavorful", "1", 150, 40, "servings"},
	{"Parmesan", enum.CategoryCheese, "Aged and nutty", "2", 100, 30, "servings"},
	{"Four Cheese Blend", enum.CategoryCheese, "Mozzarella, cheddar, parmesan, provolone", "3", 80, 25, "servings"},
	{"Vegan Cheese", enum.CategoryCheese, "Plant-based alternative", "2", 60, 20, "servings"},

	{"Mushrooms", enum.CategoryVegetables, "Fresh button mushrooms", "1", 120, 30, "servings"},
	{"Bell Peppers", enum.CategoryVegetables, "Colorful bell peppers", "1", 100, 25, "servings"},
	{"Red Onions", enum.CategoryVegetables, "Sweet red onions", "0.5", 150, 40, "servings"},
	{"Black Olives", enum.CategoryVegetables, "Mediterranean olives", "1.5", 90, 25, "servings"},
	{"Tomatoes", enum.CategoryVegetables, "Fresh cherry tomatoes", "1", 80, 20, "servings"},
	{"Spinach", enum.CategoryVegetables, "Fresh baby spinach", "1", 70, 20, "servings"},
	{"Jalapeños", enum.CategoryVegetables, "Spicy jalapeño peppers", "1", 60, 15, "servings"},
	{"Corn", enum.CategoryVegetables, "Sweet corn kernels", "1", 80, 20, "servings"},

	{"Pepperoni", enum.CategoryMeat, "Classic spicy pepperoni", "2", 100, 25, "servings"},
	{"Italian Sausage", enum.CategoryMeat, "Seasoned pork sausage", "2.5", 80, 20, "servings"},
	{"Grilled Chicken", enum.CategoryMeat, "Tender grilled chicken", "3", 70, 20, "servings"},
	{"Ham", enum.CategoryMeat, "Smoked ham slices", "2", 60, 15, "servings"},
	{"Bacon", enum.CategoryMeat, "Crispy bacon strips", "2.5", 50, 15, "servings"},
	{"Ground Beef", enum.CategoryMeat, "Seasoned ground beef", "2.5", 60, 15, "servings"},
}

func main() {
	// CLI flags
	email := flag.String("email", "", "Admin email address")
	password := flag.String("password", "", "Admin password")
	name := flag.String("name", "", "Admin full name")
	skipCatalog := flag.Bool("skip-catalog", false, "Only seed the admin user")
	flag.Parse()

	cfg := config.Load()
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	// Fall back to environment variables, then defaults
	*email = firstNonEmpty(*email, os.Getenv("SEED_EMAIL"), "admin@pizzacraft.local")
	*name = firstNonEmpty(*name, os.Getenv("SEED_NAME"), "PizzaCraft Admin")
	*password = firstNonEmpty(*password, os.Getenv("SEED_PASSWORD"))
	if *password == "" {
		*password = "password123"
		log.Warn("using default password 'password123', change it immediately in production")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("unable to ping database: %v", err)
	}
	log.Info("connected to database")

	// Seed in a transaction: admin and catalog land together or not at all
	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	adminID, err := seedAdmin(ctx, tx, strings.ToLower(*email), *password, *name)
	if err != nil {
		log.Fatalf("failed to seed admin: %v", err)
	}

	created := 0
	if !*skipCatalog {
		created, err = seedCatalog(ctx, tx)
		if err != nil {
			log.Fatalf("failed to seed catalog: %v", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("failed to commit: %v", err)
	}

	log.WithFields(log.Fields{
		"admin_id":      adminID,
		"catalog_added": created,
	}).Info("seed completed successfully")
}

// seedAdmin creates the admin user if it doesn't exist.
func seedAdmin(ctx context.Context, tx pgx.Tx, email, password, fullName string) (uuid.UUID, error) {
	var existingID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1 LIMIT 1`, email).Scan(&existingID)
	if err == nil {
		log.Infof("user '%s' already exists (ID: %s), skipping", email, existingID)
		return existingID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check user: %w", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return uuid.Nil, err
	}

	first, last := splitName(fullName)
	insertSQL := `
		INSERT INTO users (first_name, last_name, email, hashed_password, role, is_email_verified)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id
	`
	var newID uuid.UUID
	err = tx.QueryRow(ctx, insertSQL, first, last, email, hashed, enum.UserRoleAdmin).Scan(&newID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}

	log.Infof("created admin user '%s' (ID: %s)", email, newID)
	return newID, nil
}

// seedCatalog inserts the starter catalog, leaving existing items untouched.
// It returns how many rows were added.
func seedCatalog(ctx context.Context, tx pgx.Tx) (int, error) {
	insertSQL := `
		INSERT INTO catalog_items (name, category, description, price, stock, threshold, unit)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category, name) DO NOTHING
	`
	created := 0
	for _, it := range starterCatalog {
		price, err := decimal.NewFromString(it.price)
		if err != nil {
			return created, fmt.Errorf("price for %s: %w", it.name, err)
		}
		tag, err := tx.Exec(ctx, insertSQL,
			it.name, it.category, it.description, price.StringFixed(2), it.stock, it.threshold, it.unit)
		if err != nil {
			return created, fmt.Errorf("insert %s: %w", it.name, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "Admin", "User"
	case 1:
		return parts[0], "Admin"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
