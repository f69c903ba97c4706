package schema

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"

	"graph-indexer/internal/sqltype"
)

// DefaultQueryRoot is the conventional root query type name.
const DefaultQueryRoot = "QueryRoot"

// MetadataEntity is the per-block cursor entity added to registered schemas.
const MetadataEntity = "IndexMetadataEntity"

const metadataEntitySDL = `type IndexMetadataEntity @entity {
  id: ID!
  time: UInt8!
  block_height: UInt8!
  block_id: Bytes32!
}`

var builtinDirectives = map[string]struct{}{
	"entity":  {},
	"virtual": {},
	"indexed": {},
	"unique":  {},
	"join":    {},
}

type options struct {
	withMetadata bool
}

// Option adjusts Parse.
type Option func(*options)

// WithIndexMetadata appends the IndexMetadataEntity type used as the executor cursor.
func WithIndexMetadata() Option {
	return func(o *options) { o.withMetadata = true }
}

// Parse builds a ParsedSchema from SDL text. The version is the hash of text
// as given, before any injected types.
func Parse(namespace, identifier, text string, opts ...Option) (*ParsedSchema, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := parseDocument(text)
	if err != nil {
		return nil, err
	}
	if o.withMetadata && !declares(doc, MetadataEntity) {
		meta, err := parseDocument(metadataEntitySDL)
		if err != nil {
			return nil, err
		}
		doc.Definitions = append(doc.Definitions, meta.Definitions...)
	}

	d := &decoder{
		objectDefs: map[string]*ast.ObjectDefinition{},
		unionDefs:  map[string]*ast.UnionDefinition{},
		enums:      map[string][]string{},
	}
	if err := d.collect(doc); err != nil {
		return nil, err
	}

	objects, err := d.decodeObjects()
	if err != nil {
		return nil, err
	}
	var rootFields []Field
	if def, ok := d.objectDefs[d.queryRoot]; ok {
		rootFields, err = d.decodeFields(def)
		if err != nil {
			return nil, err
		}
	}

	return Assemble(Definition{
		Namespace:  namespace,
		Identifier: identifier,
		Version:    Version(text),
		Raw:        text,
		QueryRoot:  d.queryRoot,
		Objects:    objects,
		Enums:      d.enums,
		EnumOrder:  d.enumOrder,
		RootFields: rootFields,
	})
}

func parseDocument(text string) (*ast.Document, error) {
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(text),
			Name: "schema",
		}),
		Options: parser.ParseOptions{NoLocation: true},
	})
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Err: err}
	}
	return doc, nil
}

func declares(doc *ast.Document, name string) bool {
	for _, def := range doc.Definitions {
		if obj, ok := def.(*ast.ObjectDefinition); ok && nameOf(obj.Name) == name {
			return true
		}
	}
	return false
}

type decoder struct {
	queryRoot   string
	objectOrder []string
	objectDefs  map[string]*ast.ObjectDefinition
	unionOrder  []string
	unionDefs   map[string]*ast.UnionDefinition
	enums       map[string][]string
	enumOrder   []string
	typeOrder   []string
}

// collect registers every type definition and rejects unsupported kinds.
func (d *decoder) collect(doc *ast.Document) error {
	seen := map[string]struct{}{}
	register := func(name string) error {
		if _, dup := seen[name]; dup {
			return newError(KindDuplicateType, name, "", "type is defined more than once")
		}
		seen[name] = struct{}{}
		d.typeOrder = append(d.typeOrder, name)
		return nil
	}

	for _, def := range doc.Definitions {
		switch t := def.(type) {
		case *ast.SchemaDefinition:
			for _, op := range t.OperationTypes {
				if op.Operation == ast.OperationTypeQuery && op.Type != nil {
					d.queryRoot = nameOf(op.Type.Name)
				}
			}
		case *ast.ObjectDefinition:
			name := nameOf(t.Name)
			if err := register(name); err != nil {
				return err
			}
			d.objectOrder = append(d.objectOrder, name)
			d.objectDefs[name] = t
		case *ast.UnionDefinition:
			name := nameOf(t.Name)
			if err := register(name); err != nil {
				return err
			}
			d.unionOrder = append(d.unionOrder, name)
			d.unionDefs[name] = t
		case *ast.EnumDefinition:
			name := nameOf(t.Name)
			if err := register(name); err != nil {
				return err
			}
			values := make([]string, 0, len(t.Values))
			for _, v := range t.Values {
				values = append(values, nameOf(v.Name))
			}
			d.enums[name] = values
			d.enumOrder = append(d.enumOrder, name)
		case *ast.ScalarDefinition:
			name := nameOf(t.Name)
			if !sqltype.IsScalar(name) {
				return newError(KindUnsupportedTypeKind, name, "", "custom scalars are not supported")
			}
		case *ast.DirectiveDefinition:
			name := nameOf(t.Name)
			if _, ok := builtinDirectives[name]; !ok {
				return newError(KindUnsupportedTypeKind, "@"+name, "", "custom directives are not supported")
			}
		case *ast.InterfaceDefinition:
			return newError(KindUnsupportedTypeKind, nameOf(t.Name), "", "interfaces are not supported")
		case *ast.InputObjectDefinition:
			return newError(KindUnsupportedTypeKind, nameOf(t.Name), "", "input objects are not supported")
		case *ast.TypeExtensionDefinition:
			name := ""
			if t.Definition != nil {
				name = nameOf(t.Definition.Name)
			}
			return newError(KindUnsupportedTypeKind, name, "", "type extensions are not supported")
		case *ast.OperationDefinition, *ast.FragmentDefinition:
			return newError(KindUnsupportedTypeKind, "", "", "executable definitions are not allowed in a schema")
		default:
			return newError(KindUnsupportedTypeKind, "", "", fmt.Sprintf("unsupported definition %T", def))
		}
	}

	if d.queryRoot == "" {
		if _, ok := d.objectDefs[DefaultQueryRoot]; ok {
			d.queryRoot = DefaultQueryRoot
		}
	} else if _, ok := d.objectDefs[d.queryRoot]; !ok {
		return newError(KindUndefinedType, d.queryRoot, "", "query root type is not defined")
	}
	return nil
}

func (d *decoder) isKnown(name string) bool {
	if sqltype.IsScalar(name) {
		return true
	}
	if _, ok := d.objectDefs[name]; ok {
		return true
	}
	if _, ok := d.unionDefs[name]; ok {
		return true
	}
	_, ok := d.enums[name]
	return ok
}

// decodeObjects returns objects and flattened unions in declaration order.
func (d *decoder) decodeObjects() ([]*Object, error) {
	byName := map[string]*Object{}
	for _, name := range d.objectOrder {
		if name == d.queryRoot {
			continue
		}
		def := d.objectDefs[name]
		fields, err := d.decodeFields(def)
		if err != nil {
			return nil, err
		}
		obj := &Object{Name: name, Fields: fields, Virtual: isVirtualType(def.Directives)}
		if err := validateObject(obj); err != nil {
			return nil, err
		}
		byName[name] = obj
	}

	for _, name := range d.unionOrder {
		obj, err := d.flattenUnion(d.unionDefs[name], byName)
		if err != nil {
			return nil, err
		}
		byName[name] = obj
	}

	out := make([]*Object, 0, len(byName))
	for _, name := range d.typeOrder {
		if obj, ok := byName[name]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func validateObject(obj *Object) error {
	_, hasID := obj.Field(IDField)
	if obj.Virtual && hasID {
		return newError(KindVirtualWithID, obj.Name, IDField, "virtual types cannot declare an id")
	}
	if !obj.Virtual && !hasID {
		return newError(KindMissingID, obj.Name, "", "entities require an id: ID! field")
	}
	if _, reserved := obj.Field(ObjectColumn); reserved && !obj.Virtual {
		return newError(KindReservedField, obj.Name, ObjectColumn, "the object column is reserved")
	}
	return nil
}

// flattenUnion merges member fields by first-seen name. Fields missing from
// some members become nullable; id stays non-null.
func (d *decoder) flattenUnion(def *ast.UnionDefinition, objects map[string]*Object) (*Object, error) {
	name := nameOf(def.Name)
	union := &Object{Name: name, Union: true}

	type merged struct {
		field Field
		count int
	}
	var order []string
	fields := map[string]*merged{}
	virtualMembers := 0

	for _, m := range def.Types {
		memberName := nameOf(m.Name)
		member, ok := objects[memberName]
		if !ok {
			if d.isKnown(memberName) {
				return nil, newError(KindInvalidUnionMember, name, "", fmt.Sprintf("member %s is not an object type", memberName))
			}
			return nil, newError(KindUndefinedType, name, "", fmt.Sprintf("member %s is not defined", memberName))
		}
		union.Members = append(union.Members, memberName)
		if member.Virtual {
			virtualMembers++
		}
		for _, f := range member.Fields {
			existing, seen := fields[f.Name]
			if !seen {
				fields[f.Name] = &merged{field: f, count: 1}
				order = append(order, f.Name)
				continue
			}
			if existing.field.Type != f.Type || existing.field.List != f.List {
				return nil, newError(KindInconsistentUnionField, name, f.Name,
					fmt.Sprintf("members disagree on type: %s vs %s", existing.field.TypeString(), f.TypeString()))
			}
			existing.count++
			existing.field.Nullable = existing.field.Nullable || f.Nullable
			existing.field.Indexed = existing.field.Indexed || f.Indexed
		}
	}

	switch {
	case virtualMembers == len(union.Members):
		union.Virtual = true
	case virtualMembers > 0:
		return nil, newError(KindInconsistentVirtualUnion, name, "", "members mix virtual and non-virtual types")
	}

	for i, fieldName := range order {
		m := fields[fieldName]
		f := m.field
		f.Position = i
		if m.count < len(union.Members) {
			f.Nullable = true
		}
		if f.Name == IDField {
			f.Nullable = false
		}
		union.Fields = append(union.Fields, f)
	}
	return union, nil
}

func (d *decoder) decodeFields(def *ast.ObjectDefinition) ([]Field, error) {
	owner := nameOf(def.Name)
	fields := make([]Field, 0, len(def.Fields))
	for i, fd := range def.Fields {
		f, err := decodeFieldType(owner, fd)
		if err != nil {
			return nil, err
		}
		if !d.isKnown(f.Type) {
			return nil, newError(KindUndefinedType, owner, f.Name, fmt.Sprintf("type %s is not defined", f.Type))
		}
		f.Position = i
		applyFieldDirectives(&f, fd.Directives)
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeFieldType(owner string, fd *ast.FieldDefinition) (Field, error) {
	f := Field{Name: nameOf(fd.Name), Nullable: true}
	t := fd.Type
	if nn, ok := t.(*ast.NonNull); ok {
		f.Nullable = false
		t = nn.Type
	}
	if list, ok := t.(*ast.List); ok {
		f.List = true
		f.ElemNullable = true
		t = list.Type
		if nn, ok := t.(*ast.NonNull); ok {
			f.ElemNullable = false
			t = nn.Type
		}
		if _, nested := t.(*ast.List); nested {
			return Field{}, newError(KindListOfLists, owner, f.Name, "lists of lists are not supported")
		}
	}
	named, ok := t.(*ast.Named)
	if !ok {
		return Field{}, newError(KindUndefinedType, owner, f.Name, "field type has no name")
	}
	f.Type = nameOf(named.Name)
	return f, nil
}

func applyFieldDirectives(f *Field, directives []*ast.Directive) {
	for _, dir := range directives {
		switch nameOf(dir.Name) {
		case "indexed":
			f.Indexed = true
		case "unique":
			f.Unique = true
			f.Indexed = true
		case "join":
			for _, arg := range dir.Arguments {
				if nameOf(arg.Name) != "on" {
					continue
				}
				switch v := arg.Value.(type) {
				case *ast.EnumValue:
					f.JoinOn = v.Value
				case *ast.StringValue:
					f.JoinOn = v.Value
				}
			}
		}
	}
}

func isVirtualType(directives []*ast.Directive) bool {
	for _, dir := range directives {
		switch nameOf(dir.Name) {
		case "virtual":
			return true
		case "entity":
			for _, arg := range dir.Arguments {
				if nameOf(arg.Name) != "virtual" {
					continue
				}
				if b, ok := arg.Value.(*ast.BooleanValue); ok && b.Value {
					return true
				}
			}
		}
	}
	return false
}

func nameOf(n *ast.Name) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Value)
}
