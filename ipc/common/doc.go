// Package common holds the pieces shared by all ipc and rcm packages: the
// logger factory that plugs into the dragonboat logger facade, and the
// configuration structs for the region table and the rcm client.
package common
