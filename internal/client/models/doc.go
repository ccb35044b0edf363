// Package models defines the client-side domain types of the declarations
// portal (declarations, tips, messages, activity logs, admin users) and the
// validation rules applied to user input before anything is stored or sent.
//
// JSON tags are camelCase: this is the local cache representation. The
// snake_case wire form lives in package api.
package models
