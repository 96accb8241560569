// Package processing runs post-processing stages on sensor readings.
//
// A Pipeline is built once from the configured processor descriptors
// after the simulator connection is up. Each processor is bound to one
// input sensor; after that sensor is read, Apply runs its processors in
// configuration order and publishes every output on the processor's
// topic with the reading's stamp. Processors that cannot be set up are
// logged and left out, the rest keep running.
package processing
