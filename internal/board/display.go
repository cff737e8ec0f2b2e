package board

// DisplayText returns the operator-facing label for one phase state.
// The mapping is presentation only; transition logic never consults it.
func DisplayText(phase Phase, state PhaseState) string {
	switch state {
	case StatePending:
		return "Pending"
	case StateSkipped:
		return "Skipped"
	case StateInterrupted:
		return "Interrupted"
	case StateScanning:
		return "Scanning"
	case StateProbing:
		return "Probing"
	case StateIdentifying:
		return "Identifying"
	case StateIdentified:
		return "Identified"
	case StateProgramming:
		return "Programming"
	case StateProvisioning:
		return "Provisioning"
	case StateTesting:
		return "Testing"
	case StateScanned:
		return "QR OK"
	case StateCompleted:
		switch phase {
		case PhaseProbe:
			return "Contact OK"
		case PhaseProgram:
			return "Programmed"
		case PhaseProvision:
			return "Provisioned"
		case PhaseTest:
			return "Tested"
		}
	case StateFailed:
		switch phase {
		case PhaseVision:
			return "QR Failed"
		case PhaseProbe:
			return "Contact Failed"
		case PhaseProgram:
			return "Program Failed"
		case PhaseProvision:
			return "Provision Failed"
		case PhaseTest:
			return "Test Failed"
		}
	}
	return string(state)
}
