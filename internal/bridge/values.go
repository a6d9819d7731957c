/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/microsoft/dbgp-bridge/internal/dbgp"
)

// objectResolver converts DBGp properties into remote objects and fetches their properties on demand.
// Each handler that hands out remote objects owns one, together with its object table.
type objectResolver struct {
	mux   *dbgp.Multiplexer
	table *ObjectTable
}

// Where a property came from. Needed to fetch its children later.
type propertyOrigin struct {
	connection dbgp.ConnectionID
	depth      int
	contextID  int
	group      string
}

func (r *objectResolver) remoteObject(origin propertyOrigin, prop *dbgp.Property) RemoteObject {
	value, _ := prop.DecodedValue()

	switch prop.Type {
	case "int", "float":
		obj := RemoteObject{Type: "number", Description: value}
		if f, parseErr := strconv.ParseFloat(value, 64); parseErr == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			obj.Value, _ = json.Marshal(f)
		}
		return obj

	case "bool":
		b := value == "1" || value == "true"
		raw, _ := json.Marshal(b)
		return RemoteObject{Type: "boolean", Value: raw, Description: strconv.FormatBool(b)}

	case "string":
		raw, _ := json.Marshal(value)
		return RemoteObject{Type: "string", Value: raw, Description: value}

	case "null":
		return RemoteObject{Type: "object", Subtype: "null", Value: json.RawMessage("null"), Description: "null"}

	case "uninitialized", "undefined":
		return RemoteObject{Type: "undefined", Description: "undefined"}

	case "array", "hash":
		return RemoteObject{
			Type:        "object",
			Subtype:     "array",
			ClassName:   "Array",
			Description: fmt.Sprintf("Array[%d]", prop.NumChildren),
			ObjectID:    r.childrenHandle(origin, prop),
		}

	case "object":
		className := prop.ClassName
		if className == "" {
			className = "Object"
		}
		return RemoteObject{
			Type:        "object",
			ClassName:   className,
			Description: className,
			ObjectID:    r.childrenHandle(origin, prop),
		}

	default:
		// resource and anything engine specific.
		description := prop.Type
		if value != "" {
			description = value
		}
		return RemoteObject{Type: "object", ClassName: prop.Type, Description: description}
	}
}

// Allocates a handle for the children of a compound property. Returns "" if there are none.
func (r *objectResolver) childrenHandle(origin propertyOrigin, prop *dbgp.Property) string {
	if !prop.HasChildren() {
		return ""
	}

	h := objectHandle{
		connection:  origin.connection,
		depth:       origin.depth,
		contextID:   origin.contextID,
		numChildren: prop.NumChildren,
		group:       origin.group,
	}
	if prop.FullName != "" {
		h.kind = propertyHandle
		h.fullName = prop.FullName
	} else {
		h.kind = valueHandle
		h.children = prop.Properties
	}
	return r.table.add(h)
}

func (r *objectResolver) descriptors(origin propertyOrigin, props []dbgp.Property) []PropertyDescriptor {
	descriptors := make([]PropertyDescriptor, 0, len(props))
	for i := range props {
		descriptors = append(descriptors, PropertyDescriptor{
			Name:         props[i].Name,
			Value:        r.remoteObject(origin, &props[i]),
			Writable:     true,
			Configurable: false,
			Enumerable:   true,
			IsOwn:        true,
		})
	}
	return descriptors
}

func (r *objectResolver) scopeObject(origin propertyOrigin, name string) RemoteObject {
	return RemoteObject{
		Type:        "object",
		Description: name,
		ObjectID: r.table.add(objectHandle{
			kind:       scopeHandle,
			connection: origin.connection,
			depth:      origin.depth,
			contextID:  origin.contextID,
			group:      origin.group,
		}),
	}
}

// getProperties lists the properties of a remote object handed out by this resolver.
func (r *objectResolver) getProperties(ctx context.Context, objectID string) ([]PropertyDescriptor, error) {
	h, lookupErr := r.table.lookup(objectID)
	if lookupErr != nil {
		return nil, lookupErr
	}

	origin := propertyOrigin{connection: h.connection, depth: h.depth, contextID: h.contextID, group: h.group}

	switch h.kind {
	case scopeHandle:
		resp, sendErr := r.mux.Send(ctx, h.connection, dbgp.ContextGetCommand(h.depth, h.contextID))
		if sendErr != nil {
			return nil, sendErr
		}
		return r.descriptors(origin, resp.Properties), nil

	case propertyHandle:
		children, fetchErr := r.fetchChildren(ctx, h)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return r.descriptors(origin, children), nil

	case valueHandle:
		return r.descriptors(origin, h.children), nil

	default:
		return nil, fmt.Errorf("%w: object '%s' has no properties", ErrUnsupported, objectID)
	}
}

// Fetches all children of a compound property, one page at a time.
func (r *objectResolver) fetchChildren(ctx context.Context, h objectHandle) ([]dbgp.Property, error) {
	var children []dbgp.Property

	for page := 0; ; page++ {
		resp, sendErr := r.mux.Send(ctx, h.connection, dbgp.PropertyGetCommand(h.depth, h.contextID, h.fullName, page))
		if sendErr != nil {
			return nil, sendErr
		}
		if len(resp.Properties) == 0 {
			return nil, errors.New("engine returned no value for property " + h.fullName)
		}

		pageChildren := resp.Properties[0].Properties
		children = append(children, pageChildren...)
		if len(pageChildren) == 0 || len(children) >= h.numChildren {
			return children, nil
		}
	}
}
