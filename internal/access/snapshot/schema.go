// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package snapshot

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/guildhall/guildhall/internal/access"
)

// SchemaID is the $id of the snapshot schema.
const SchemaID = "https://guildhall.dev/schemas/member-snapshot.schema.json"

var (
	compileOnce sync.Once
	compiled    *jschema.Schema
	compileErr  error
)

// JSONSchemaExtend restricts capability to the catalog.
func (GrantDoc) JSONSchemaExtend(s *jsonschema.Schema) {
	prop, ok := s.Properties.Get("capability")
	if !ok {
		return
	}
	for _, c := range access.Catalog() {
		prop.Enum = append(prop.Enum, string(c))
	}
}

// GenerateSchema returns the JSON Schema for snapshot files.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&Snapshot{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Guildhall member snapshot"
	schema.Description = "Roles, members, and overrides of one server"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("snapshot").Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema checks YAML data against the snapshot schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.In("snapshot").Code("SNAPSHOT_EMPTY").Errorf("snapshot is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("snapshot").Code("SNAPSHOT_INVALID_YAML").Wrap(err)
	}

	sch, err := schema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return oops.In("snapshot").Code("SNAPSHOT_SCHEMA_VIOLATION").Wrap(err)
	}
	return nil
}

func schema() (*jschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = oops.In("snapshot").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			compileErr = oops.In("snapshot").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		compiled, compileErr = c.Compile(SchemaID)
		if compileErr != nil {
			compileErr = oops.In("snapshot").Code("SCHEMA_COMPILE_FAILED").Wrap(compileErr)
		}
	})
	return compiled, compileErr
}
