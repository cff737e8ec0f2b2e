// Package rig assembles the bench collaborators the cycle orchestrator
// drives: gantry motion, label scanning, the probe-head controller, the
// firmware programmer and the provisioning engine on the target serial
// line.
//
// Two assemblies exist. The hardware build opens the configured serial
// ports and wires the real head controller, the flashing tool and the
// provisioning engine. The simulated build (station.simulation) swaps
// every collaborator for an in-memory stand-in so the full pipeline
// runs on a bare development machine: motion and head share one
// kinematic state, vision issues sequential serial numbers, and the
// provisioning engine runs unchanged against a loopback device that
// answers every command line with an echo and OK.
//
// The gantry and camera have no in-tree drivers. Their integrations
// satisfy sequence.Motion and sequence.Vision and are attached through
// Options; until one is, the simulated stand-ins serve both builds.
package rig
