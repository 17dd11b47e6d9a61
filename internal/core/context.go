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
	"context"

	policy "github.com/databus23/goslo.policy"
	"github.com/gofrs/uuid"
)

// Enforcer checks policy rules. This is the same shape as
// gopherpolicy.Enforcer, so a *policy.Enforcer can be used directly.
type Enforcer interface {
	Enforce(rule string, ctx policy.Context) bool
}

// RequestContext carries the identity of the caller. The quota engine only
// reads the identifiers; authorization is left to the caller, which can use
// Can() for that purpose.
type RequestContext struct {
	RequestID  string
	ProjectID  string
	UserID     string
	QuotaClass string
	Roles      []string
	Enforcer   Enforcer
}

// NewRequestContext builds a RequestContext with a fresh request ID.
func NewRequestContext(projectID, userID string) RequestContext {
	return RequestContext{
		RequestID: newRequestID(),
		ProjectID: projectID,
		UserID:    userID,
	}
}

func newRequestID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "req-unknown"
	}
	return "req-" + id.String()
}

// Can evaluates the given policy rule for this caller. Without an enforcer,
// every rule is denied.
func (rc RequestContext) Can(rule string, target map[string]string) bool {
	if rc.Enforcer == nil {
		return false
	}
	return rc.Enforcer.Enforce(rule, rc.policyContext(target))
}

func (rc RequestContext) policyContext(target map[string]string) policy.Context {
	if target == nil {
		target = map[string]string{}
	}
	if _, exists := target["project_id"]; !exists {
		target["project_id"] = rc.ProjectID
	}
	return policy.Context{
		Roles: rc.Roles,
		Auth: map[string]string{
			"project_id": rc.ProjectID,
			"user_id":    rc.UserID,
		},
		Request: target,
	}
}

type requestContextKey struct{}

// WithRequestContext attaches the RequestContext to a context.Context.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom extracts the RequestContext from a context.Context. If
// none is attached, the zero value is returned.
func RequestContextFrom(ctx context.Context) RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(RequestContext)
	return rc
}
