package schema

import (
	"fmt"
	"strings"
)

// Definition is the raw material for a ParsedSchema. Parse produces one from
// SDL; the catalog produces one from persisted rows.
type Definition struct {
	Namespace  string
	Identifier string
	Version    string
	Raw        string
	QueryRoot  string
	Objects    []*Object
	Enums      map[string][]string
	EnumOrder  []string
	// RootFields is synthesized from the entities when empty.
	RootFields []Field
}

// Assemble derives foreign keys, junction metadata and the query root from a
// Definition and validates every cross-type reference.
func Assemble(def Definition) (*ParsedSchema, error) {
	s := &ParsedSchema{
		Namespace:   def.Namespace,
		Identifier:  def.Identifier,
		Version:     def.Version,
		Raw:         def.Raw,
		QueryRoot:   def.QueryRoot,
		objects:     make(map[string]*Object, len(def.Objects)),
		tables:      make(map[string]string, len(def.Objects)),
		enums:       map[string][]string{},
		unions:      map[string]struct{}{},
		virtuals:    map[string]struct{}{},
		foreignKeys: map[string]map[string]ForeignKey{},
	}
	if s.QueryRoot == "" {
		s.QueryRoot = DefaultQueryRoot
	}

	enumOrder := def.EnumOrder
	if len(enumOrder) == 0 {
		enumOrder = sortedKeys(def.Enums)
	}
	for _, name := range enumOrder {
		s.enums[name] = append([]string(nil), def.Enums[name]...)
		s.enumOrder = append(s.enumOrder, name)
		s.virtuals[name] = struct{}{}
	}

	for _, obj := range def.Objects {
		if _, dup := s.objects[obj.Name]; dup {
			return nil, newError(KindDuplicateType, obj.Name, "", "type is defined more than once")
		}
		s.objects[obj.Name] = obj
		s.order = append(s.order, obj.Name)
		if obj.Union {
			s.unions[obj.Name] = struct{}{}
		}
		if obj.Virtual {
			s.virtuals[obj.Name] = struct{}{}
			continue
		}
		if other, clash := s.tables[obj.Table()]; clash {
			return nil, newError(KindDuplicateType, obj.Name, "", fmt.Sprintf("table name collides with %s", other))
		}
		s.tables[obj.Table()] = obj.Name
	}

	unionMembers := map[string]struct{}{}
	for _, obj := range def.Objects {
		if obj.Union {
			for _, m := range obj.Members {
				unionMembers[m] = struct{}{}
			}
		}
	}

	for _, obj := range def.Objects {
		for _, f := range obj.Fields {
			if !s.HasType(f.Type) {
				return nil, newError(KindUndefinedType, obj.Name, f.Name, fmt.Sprintf("type %s is not defined", f.Type))
			}
			if obj.Virtual || !s.IsPossibleForeignKey(f.Type) {
				continue
			}
			ref := s.objects[f.Type]
			refColumn := IDField
			if f.JoinOn != "" {
				refColumn = f.JoinOn
			}
			if _, ok := ref.Field(refColumn); !ok {
				return nil, newError(KindUndefinedJoinField, obj.Name, f.Name,
					fmt.Sprintf("%s has no field %s", ref.Name, refColumn))
			}
			if f.List {
				// Union members hand their junctions to the union.
				if _, member := unionMembers[obj.Name]; member {
					continue
				}
				s.joinTables = append(s.joinTables, JoinTable{
					ParentType:    obj.Name,
					ParentColumn:  IDField,
					ChildType:     ref.Name,
					ChildColumn:   refColumn,
					Field:         f.Name,
					ChildPosition: f.Position,
				})
				continue
			}
			owner := strings.ToLower(obj.Name)
			if s.foreignKeys[owner] == nil {
				s.foreignKeys[owner] = map[string]ForeignKey{}
			}
			s.foreignKeys[owner][f.Name] = ForeignKey{
				Table:     obj.Table(),
				Column:    f.Name,
				RefTable:  ref.Table(),
				RefColumn: refColumn,
			}
		}
	}

	if len(def.RootFields) > 0 {
		for _, f := range def.RootFields {
			if !s.HasType(f.Type) {
				return nil, newError(KindUndefinedType, s.QueryRoot, f.Name, fmt.Sprintf("type %s is not defined", f.Type))
			}
		}
		s.rootFields = append([]Field(nil), def.RootFields...)
	} else {
		for i, obj := range s.Entities() {
			s.rootFields = append(s.rootFields, Field{
				Name:     obj.Table(),
				Type:     obj.Name,
				Nullable: true,
				List:     true,
				Position: i,
			})
		}
	}
	return s, nil
}
