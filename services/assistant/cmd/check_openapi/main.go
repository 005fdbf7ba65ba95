package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"lumosai/services/assistant/internal/server"
)

var methods = []string{"get", "post", "put", "patch", "delete"}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas map[string]schema `yaml:"schemas"`
	} `yaml:"components"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	routes := server.New(server.Config{}).Patterns()
	if err := check(doc, routes); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

// check validates the shared schemas and that the documented operations match
// the registered routes exactly.
func check(doc openAPIDoc, routes []string) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	send, err := getSchema(doc, "SendRequest")
	if err != nil {
		return err
	}
	if err := validateSendRequest(send); err != nil {
		return err
	}

	documented := makeSet(operations(doc))
	registered := makeSet(routes)
	var problems []string
	for op := range registered {
		if !documented[op] {
			problems = append(problems, "undocumented route "+op)
		}
	}
	for op := range documented {
		if !registered[op] {
			problems = append(problems, "documented operation has no route "+op)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "\n"))
	}
	return nil
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// operations renders the documented operations as "METHOD /path" patterns.
func operations(doc openAPIDoc) []string {
	var out []string
	for path, item := range doc.Paths {
		for _, m := range methods {
			if _, ok := item[m]; ok {
				out = append(out, strings.ToUpper(m)+" "+path)
			}
		}
	}
	return out
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	if prop, ok := s.Properties["error"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	if prop, ok := s.Properties["requestId"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.requestId must be string")
	}
	return nil
}

func validateSendRequest(s schema) error {
	if s.Type != "object" {
		return errors.New("SendRequest must be object")
	}
	if len(s.Required) > 0 {
		return errors.New("SendRequest fields are all optional")
	}
	att, ok := s.Properties["attachments"]
	if !ok || att.Type != "array" {
		return errors.New("SendRequest.attachments must be array")
	}
	if att.Items == nil || strings.TrimSpace(att.Items.Ref) != "#/components/schemas/Attachment" {
		return errors.New("SendRequest.attachments.items must reference Attachment")
	}
	if prop, ok := s.Properties["temperature"]; !ok || prop.Type != "number" {
		return errors.New("SendRequest.temperature must be number")
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
