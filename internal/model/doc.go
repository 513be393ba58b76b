// Package model contains the domain types shared by the store, service, delta, and HTTP layers.
//
// The JSON tags on these types define the wire format of both the admin API and the client API.
package model
