/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package test

import (
	"database/sql"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	gorp "gopkg.in/gorp.v2"

	"github.com/sapcc/nova-quota/internal/db"

	//provides sqlite3 database driver
	_ "github.com/mattn/go-sqlite3"
)

//InitDatabase creates an empty SQLite database in a temporary directory and
//applies the given migrations (usually db.APIMigrations or db.CellMigrations).
func InitDatabase(t *testing.T, migrations map[string]string) *gorp.DbMap {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "unittest.db")
	sqliteDB, err := sql.Open("sqlite3", dbPath)
	failOnErr(t, err)
	t.Cleanup(func() { sqliteDB.Close() })

	//apply DB schema
	var names []string
	for name := range migrations {
		if strings.HasSuffix(name, ".up.sql") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		_, err := sqliteDB.Exec(sqliteDialect(migrations[name]))
		if err != nil {
			t.Fatalf("while applying migration %s: %s", name, err.Error())
		}
	}

	dbMap := &gorp.DbMap{Db: sqliteDB, Dialect: gorp.SqliteDialect{}}
	db.InitGorp(dbMap)
	return dbMap
}

//SQLite only autoincrements columns that are declared exactly like this.
func sqliteDialect(migration string) string {
	return strings.ReplaceAll(migration, "BIGSERIAL NOT NULL PRIMARY KEY", "INTEGER PRIMARY KEY")
}

//MustInsert inserts the given records or fails the test.
func MustInsert(t *testing.T, dbMap *gorp.DbMap, records ...interface{}) {
	t.Helper()
	for _, record := range records {
		failOnErr(t, dbMap.Insert(record))
	}
}

func failOnErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
