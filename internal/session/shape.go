package session

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/docsession/internal/ir"
)

// Shape describes how entities of type T map to documents: the collection
// they live in, where their identifier is kept, and how they serialize.
type Shape[T any] interface {
	// Collection returns the collection new entities are stored in.
	Collection() string

	// Identity returns the entity's identifier, or "" if it has none.
	Identity(entity *T) string

	// SetIdentity writes an identifier into the entity.
	SetIdentity(entity *T, id string)

	// Serialize converts the entity to a document body.
	Serialize(entity *T) (ir.IRObject, error)

	// Deserialize builds a new entity from a document body.
	Deserialize(body ir.IRObject) (*T, error)
}

// entityShape is the type-erased view of a Shape used by handles.
type entityShape interface {
	collection() string
	identity(entity any) string
	setIdentity(entity any, id string)
	serialize(entity any) (ir.IRObject, error)
}

type erasedShape[T any] struct {
	shape Shape[T]
}

func eraseShape[T any](s Shape[T]) entityShape {
	return erasedShape[T]{shape: s}
}

func (e erasedShape[T]) collection() string { return e.shape.Collection() }

func (e erasedShape[T]) identity(entity any) string {
	return e.shape.Identity(entity.(*T))
}

func (e erasedShape[T]) setIdentity(entity any, id string) {
	e.shape.SetIdentity(entity.(*T), id)
}

func (e erasedShape[T]) serialize(entity any) (ir.IRObject, error) {
	return e.shape.Serialize(entity.(*T))
}

// JSONShape maps a struct through encoding/json. The identity field is
// reached through an accessor rather than struct tags.
type JSONShape[T any] struct {
	collection string
	idKey      string
	id         func(*T) *string
}

// NewJSONShape creates a shape for collection. id returns a pointer to the
// entity's identifier field. idKey is the JSON key of that field, which is
// removed from stored bodies; pass "" when the field is tagged `json:"-"`.
func NewJSONShape[T any](collection, idKey string, id func(*T) *string) JSONShape[T] {
	return JSONShape[T]{collection: collection, idKey: idKey, id: id}
}

// Collection implements Shape.
func (s JSONShape[T]) Collection() string { return s.collection }

// Identity implements Shape.
func (s JSONShape[T]) Identity(entity *T) string {
	if s.id == nil {
		return ""
	}
	return *s.id(entity)
}

// SetIdentity implements Shape.
func (s JSONShape[T]) SetIdentity(entity *T, id string) {
	if s.id != nil {
		*s.id(entity) = id
	}
}

// Serialize implements Shape.
func (s JSONShape[T]) Serialize(entity *T) (ir.IRObject, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", entity, err)
	}
	body, err := ir.UnmarshalObject(data)
	if err != nil {
		return nil, fmt.Errorf("convert %T: %w", entity, err)
	}
	if s.idKey != "" {
		delete(body, s.idKey)
	}
	return body, nil
}

// Deserialize implements Shape.
func (s JSONShape[T]) Deserialize(body ir.IRObject) (*T, error) {
	data, err := body.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	entity := new(T)
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("unmarshal into %T: %w", entity, err)
	}
	return entity, nil
}

// Dynamic is a schemaless document.
type Dynamic struct {
	ID   string
	Body ir.IRObject
}

// DynamicShape maps Dynamic documents of one collection.
type DynamicShape struct {
	Name string
}

// Collection implements Shape.
func (s DynamicShape) Collection() string { return s.Name }

// Identity implements Shape.
func (DynamicShape) Identity(d *Dynamic) string { return d.ID }

// SetIdentity implements Shape.
func (DynamicShape) SetIdentity(d *Dynamic, id string) { d.ID = id }

// Serialize implements Shape.
func (DynamicShape) Serialize(d *Dynamic) (ir.IRObject, error) {
	if d.Body == nil {
		return ir.IRObject{}, nil
	}
	return d.Body.Clone(), nil
}

// Deserialize implements Shape.
func (DynamicShape) Deserialize(body ir.IRObject) (*Dynamic, error) {
	return &Dynamic{Body: body.Clone()}, nil
}
