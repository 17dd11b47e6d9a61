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

package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	gorp "gopkg.in/gorp.v2"
)

//BuildSimpleWhereClause constructs a WHERE clause of the form "field1 = val1 AND
//field2 = val2 AND field3 IN (val3, val4)". Conditions are emitted in the
//order of the sorted field names, so placeholders appear in ascending order.
//
//If parameterOffset is not 0, start counting placeholders ("$1", "$2", etc.)
//after that offset.
func BuildSimpleWhereClause(fields map[string]interface{}, parameterOffset int) (queryFragment string, queryArgs []interface{}) {
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	var (
		conditions []string
		args       []interface{}
	)
	for _, field := range names {
		switch value := fields[field].(type) {
		case []string:
			if len(value) == 0 {
				//no admissible values for this field, so the entire condition must fail
				return "FALSE", nil
			}
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", field, makePlaceholderList(len(value), len(args)+1+parameterOffset)))
			for _, v := range value {
				args = append(args, v)
			}
		default:
			conditions = append(conditions, fmt.Sprintf("%s = $%d", field, len(args)+1+parameterOffset))
			args = append(args, value)
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}

	return strings.Join(conditions, " AND "), args
}

func makePlaceholderList(count, offset int) string {
	placeholders := make([]string, count)
	for idx := range placeholders {
		placeholders[idx] = fmt.Sprintf("$%d", offset+idx)
	}
	return strings.Join(placeholders, ",")
}

//ForeachRow calls dbi.Query() with the given query and args, then executes
//the given action for every row in the result set. The result set is always
//closed, and the first error encountered is returned.
func ForeachRow(dbi gorp.SqlExecutor, query string, args []interface{}, action func(*sql.Rows) error) error {
	rows, err := dbi.Query(query, args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		err = action(rows)
		if err != nil {
			rows.Close()
			return err
		}
	}
	err = rows.Err()
	if err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

//instanceFilterFields builds the fields for BuildSimpleWhereClause that
//select instances by UUID and, if given, by owner.
func instanceFilterFields(uuidColumn string, uuids []string, userID string) map[string]interface{} {
	fields := map[string]interface{}{uuidColumn: uuids}
	if userID != "" {
		fields["user_id"] = userID
	}
	return fields
}
