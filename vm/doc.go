// Package vm implements an ActionScript Byte Code (AVM2) interpreter.
//
// This package contains:
//   - the tagged Value model and the constant pools of a loaded unit
//   - the bytecode cursor, builder and disassembler
//   - operand stack, activation frame and scope stack
//   - traits, classes, objects and the builtin domain
//   - multiname completion and property dispatch
//   - the dispatch loop with exception handling and execution limits
package vm
