package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"emarsync/internal/config"
	"emarsync/internal/events"
	"emarsync/internal/schema"
)

// Declarations is the declarations document shared by the package tests.
const Declarations = `
events:
  welcome:
    first_name: [First Name, string]
  password_reset:
    user: [User, auth.User]
    reset_link: [Reset Link, string]
  order_shipped:
    user: [User, auth.User]
    products: [Products, "[shop.Product]"]
fields:
  E-Mail: [3, text]
  First Name: [1, shorttext]
  Last Name: [2, shorttext]
  Gender: [5, singlechoice]
  Interests: [40, multichoice]
  Registration Date: [48, date]
field_choices:
  Gender: {male: 1, female: 2}
  Interests: {books: 10, music: 11}
create_only_fields: [Registration Date]
lists:
  newsletter: 100
`

// User and Product are host application models referenced by the test declarations.
type User struct {
	ID    uint `gorm:"primaryKey"`
	Email string
}

type Product struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

// testDBCache caches test databases by root test name so helpers called
// from subtests share one database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

func allModels() []any {
	return []any{
		&events.Event{},
		&events.EventInstance{},
		&User{},
		&Product{},
	}
}

// SetupTestDB creates a named in-memory database with every model migrated.
// cache=shared lets multiple connections of one test see the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager together with a test logger
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tables []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables)

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
		}
		return nil
	})
}

// NewTypes registers the test models under "auth.User" and "shop.Product".
func NewTypes(t *testing.T, db *gorm.DB) *schema.Types {
	t.Helper()

	users, err := schema.NewGormModel[User](db)
	require.NoError(t, err)
	products, err := schema.NewGormModel[Product](db)
	require.NoError(t, err)

	types := schema.NewTypes()
	require.NoError(t, types.Register("auth.User", users))
	require.NoError(t, types.Register("shop.Product", products))
	return types
}

// LoadDeclarations compiles doc, or the shared Declarations when doc is empty.
func LoadDeclarations(t *testing.T, types *schema.Types, doc string) *schema.Declarations {
	t.Helper()
	if doc == "" {
		doc = Declarations
	}
	parsed, err := schema.Parse([]byte(doc))
	require.NoError(t, err)
	decl, err := parsed.Compile(types)
	require.NoError(t, err)
	return decl
}

func CreateUser(t *testing.T, db *gorm.DB, email string) *User {
	t.Helper()
	user := &User{Email: email}
	require.NoError(t, db.Create(user).Error)
	return user
}

func CreateProduct(t *testing.T, db *gorm.DB, name string) *Product {
	t.Helper()
	product := &Product{Name: name}
	require.NoError(t, db.Create(product).Error)
	return product
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestApp builds a cartridge server with the routes added by mount.
func CreateTestApp(t *testing.T, db *gorm.DB, mount func(*cartridge.Server)) *fiber.App {
	t.Helper()

	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)
	cfg.EnableSecFetchSite = false

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	mount(srv)
	return srv.App()
}
