// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package policy

import (
	"strings"

	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
)

// Request asks whether a member holds a capability.
type Request struct {
	MemberID string
	Query    access.Query
}

// NewRequest builds a request from typed values.
func NewRequest(memberID string, q access.Query) Request {
	return Request{MemberID: memberID, Query: q}
}

// ParseRequest builds a validated Request from boundary strings. An empty
// scope means SERVER.
func ParseRequest(memberID, capability, scope, targetID string) (Request, error) {
	req := Request{MemberID: strings.TrimSpace(memberID)}
	if err := req.validateMember(); err != nil {
		return Request{}, err
	}
	q, err := access.ParseQuery(capability, scope, targetID)
	if err != nil {
		return Request{}, oops.In("policy").With("member_id", req.MemberID).Wrap(err)
	}
	req.Query = q
	return req, nil
}

// Validate checks a Request built in code.
func (r Request) Validate() error {
	if err := r.validateMember(); err != nil {
		return err
	}
	return r.Query.Validate()
}

func (r Request) validateMember() error {
	if r.MemberID == "" {
		return oops.In("policy").Code("INVALID_REQUEST").Errorf("member id is required")
	}
	return nil
}
