// Package routetable is the gateway's routing index: the mapping from
// (HTTP method, normalized path) to the backend that serves it.
//
// Table is filled by the discovery agent and replaced one backend at a time;
// PrefixTable is the static form built once from configuration. Both are safe
// for concurrent use.
package routetable
