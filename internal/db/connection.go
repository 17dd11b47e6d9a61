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

// Package db contains the SQL-backed stores for the API database and the
// cell databases.
package db

import (
	"fmt"
	"net/url"
	"os"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/osext"
	gorp "gopkg.in/gorp.v2"
)

//APIDatabaseURL builds the connection URL of the API database from the
//NOVA_QUOTA_DB_* environment variables.
func APIDatabaseURL() *url.URL {
	return &url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			osext.GetenvOrDefault("NOVA_QUOTA_DB_USERNAME", "postgres"),
			os.Getenv("NOVA_QUOTA_DB_PASSWORD"),
		),
		Host:     osext.GetenvOrDefault("NOVA_QUOTA_DB_HOSTNAME", "localhost") + ":" + osext.GetenvOrDefault("NOVA_QUOTA_DB_PORT", "5432"),
		Path:     osext.GetenvOrDefault("NOVA_QUOTA_DB_NAME", "nova_api"),
		RawQuery: os.Getenv("NOVA_QUOTA_DB_CONNECTION_OPTIONS"),
	}
}

//Init connects to the API database.
func Init() (*gorp.DbMap, error) {
	return connect(APIDatabaseURL(), APIMigrations)
}

//InitCell connects to a cell database. The connection string is the one
//recorded in the cell mapping.
func InitCell(connection string) (*gorp.DbMap, error) {
	dbURL, err := url.Parse(connection)
	if err != nil {
		return nil, fmt.Errorf("malformed cell database URL: %w", err)
	}
	return connect(dbURL, CellMigrations)
}

func connect(dbURL *url.URL, migrations map[string]string) (*gorp.DbMap, error) {
	db, err := easypg.Connect(easypg.Configuration{
		PostgresURL: dbURL,
		Migrations:  migrations,
	})
	if err != nil {
		return nil, err
	}

	//leave some connections for the other nova processes
	db.SetMaxOpenConns(16)

	dbMap := &gorp.DbMap{Db: db, Dialect: gorp.PostgresDialect{}}
	InitGorp(dbMap)
	return dbMap, nil
}
