// Package server contains the payload and routing primitives shared by the
// HTTP wrappers in this repository.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"strings"

	goji "goji.io"
)

// FloatT is a struct with a single float64 field, used for json exchanges
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, used for json exchanges
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, used for json exchanges
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, used for json exchanges
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct containing the basic types and their encoded
// partners, so that a single response path serves every scalar route
type HumanPayload struct {
	// T holds the type of the data
	T types.BasicKind

	// Bool holds a bool
	Bool bool

	// Int holds an int
	Int int

	// Float holds a float
	Float float64

	// String holds a string
	String string
}

// EncodeAndRespond converts the data to JSON and writes it to w with the
// appropriate content type
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		err = fmt.Errorf("unknown type code %v", hp.T)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding payload to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// RouteTable maps goji patterns to handler funcs
type RouteTable map[goji.Pattern]http.HandlerFunc

// ListEndpoints lists the endpoints in a RouteTable (the keys)
func (rt RouteTable) ListEndpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, fmt.Sprint(k))
	}
	return routes
}

// Bind attaches every route in the table to mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.Handle(p, h)
	}
}

// HTTPer is an object which can hand out a route table binding its HTTP
// interface
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize ensures an endpoint looks like "/mono", with a leading
// slash and no trailing one, suitable for mounting a submux at
func SubMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	return strings.TrimSuffix(stem, "/")
}
