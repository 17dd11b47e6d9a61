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

package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorSet replaces the "error" return value in functions that can return
// multiple errors. It provides convenience functions for easily adding errors
// to the set.
type ErrorSet []error

// Add adds the given error to the set if it is non-nil.
func (errs *ErrorSet) Add(err error) {
	if err != nil {
		*errs = append(*errs, err)
	}
}

// Addf is a shorthand for errs.Add(fmt.Errorf(...)).
func (errs *ErrorSet) Addf(msg string, args ...any) {
	*errs = append(*errs, fmt.Errorf(msg, args...))
}

// Append adds all errors from the `other` ErrorSet to this one.
func (errs *ErrorSet) Append(other ErrorSet) {
	*errs = append(*errs, other...)
}

// IsEmpty returns true if no errors are in the set.
func (errs ErrorSet) IsEmpty() bool {
	return len(errs) == 0
}

// Join concatenates the messages of all errors in this set.
func (errs ErrorSet) Join(sep string) string {
	msgs := make([]string, len(errs))
	for idx, err := range errs {
		msgs[idx] = err.Error()
	}
	return strings.Join(msgs, sep)
}

////////////////////////////////////////////////////////////////////////////////
// errors returned by quota operations

// UnknownResourceError is returned when a caller refers to resources that are
// not in the resource registry.
type UnknownResourceError struct {
	Unknown []string // sorted
}

// Error implements the builtin/error interface.
func (e *UnknownResourceError) Error() string {
	return "unknown quota resources: " + strings.Join(e.Unknown, ", ")
}

// InvalidMethodUsageError is returned when a quota method is invoked on a
// resource that does not support it.
type InvalidMethodUsageError struct {
	Method   string
	Resource string
}

// Error implements the builtin/error interface.
func (e *InvalidMethodUsageError) Error() string {
	return fmt.Sprintf("wrong quota method %s used on resource %s", e.Method, e.Resource)
}

// InvalidValueError is returned when a proposed quota value is negative.
type InvalidValueError struct {
	Unders []string // sorted
}

// Error implements the builtin/error interface.
func (e *InvalidValueError) Error() string {
	return "change would make usage less than 0 for the following resources: " + strings.Join(e.Unders, ", ")
}

// OverQuotaError is returned by limit checks when the proposed values exceed
// the applicable limits.
type OverQuotaError struct {
	Overs    []string // sorted
	Quotas   map[string]int64
	Usages   map[string]int64
	Headroom map[string]int64
}

// Error implements the builtin/error interface.
func (e *OverQuotaError) Error() string {
	return "quota exceeded for resources: " + strings.Join(e.Overs, ", ")
}

// NotImplementedError is returned by drivers that cannot honor an option.
// Drivers return this instead of silently ignoring the option.
type NotImplementedError struct {
	Feature string
}

// Error implements the builtin/error interface.
func (e *NotImplementedError) Error() string {
	return "not implemented: " + e.Feature
}

// ErrMissingValues is returned by LimitCheckProjectAndUser when neither
// project values nor user values were given.
var ErrMissingValues = errors.New("must specify at least one of project_values or user_values for the limit check")
