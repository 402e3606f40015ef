// Package decoder turns characteristic writes into sampler commands.
//
// Commands are plain ASCII. Actions are bare names ("sampleBag", "abort");
// parameters carry an integer suffix with no separator ("samplingTime5000",
// "numPurgeCycles3"). Times are in milliseconds.
package decoder
