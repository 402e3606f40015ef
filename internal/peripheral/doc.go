// Package peripheral implements the BLE peripheral role used by blimp.
//
// An Adapter owns the connection state of a single GATT service with one
// characteristic that supports read, write and notify:
//   - Setup enables the stack, registers connect/disconnect and write
//     handlers, adds the service and starts advertising
//   - connect/disconnect events flip the connection flag; a disconnect
//     re-starts advertising exactly once
//   - non-empty writes are forwarded verbatim to a Decoder
//   - SendNotification pushes a string to the connected central
//
// The radio itself lives behind the Stack interface. Concrete stacks live in
// the tinygo and go-ble subpackages; tests use testutils.MockStack.
package peripheral
