package store

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/letsencrypt/borp"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/core"
)

// dialectMap mirrors boulder's sa.dialectMap: load both drivers so a
// deployment can pick MySQL for production and SQLite for local/dev use
// without code changes, selected purely by the configured driver name.
var dialectMap = map[string]borp.Dialect{
	"sqlite3": borp.SqliteDialect{},
	"mysql":   borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8MB4"},
}

// NewDBMap opens driver/dsn, pings it, and wraps it in a borp.DbMap with
// HDS's table mappings registered. Grounded on sa/database.go's NewDbMap.
func NewDBMap(driver, dsn string, logger blog.Logger) (*borp.DbMap, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	logger.Info(fmt.Sprintf("connected to database %s", driver))

	dialect, ok := dialectMap[driver]
	if !ok {
		return nil, fmt.Errorf("store: no borp dialect registered for driver %q", driver)
	}

	dbMap := &borp.DbMap{Db: db, Dialect: dialect}
	initTables(dbMap)
	return dbMap, nil
}

// initTables registers HDS's table maps with the ORM. CreateTablesIfNotExists
// is left to the caller (cmd/hds-server, on --migrate) the way boulder
// leaves schema creation to its own migration tooling rather than doing it
// implicitly on every process start.
func initTables(dbMap *borp.DbMap) {
	dbMap.AddTableWithName(hostModel{}, "hosts").SetKeys(false, "ServerKey")

	stateTable := dbMap.AddTableWithName(stateEntryModel{}, "state_entries").SetKeys(false, "ServerKey", "StateKey")
	stateTable.ColMap("Value").SetMaxSize(core.MaxValueSize)
	stateTable.ColMap("Signature").SetMaxSize(1024)

	dbMap.AddTableWithName(topicModel{}, "topics").SetKeys(false, "Topic")

	membershipTable := dbMap.AddTableWithName(membershipModel{}, "topic_memberships").SetKeys(false, "Topic", "ServerKey")
	membershipTable.ColMap("Subtopics").SetMaxSize(4096)
	membershipTable.ColMap("Signature").SetMaxSize(1024)
}
