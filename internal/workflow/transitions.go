package workflow

import "adcp-sales-agent/pkg/models"

type edge struct {
	from, to models.StepStatus
}

type rule struct {
	action models.MappingAction
	owner  models.StepOwner
}

// transitions is the complete set of legal moves except cancellation, which is
// allowed from every non-terminal status.
var transitions = map[edge]rule{
	{models.StepStatusPending, models.StepStatusRequiresApproval}:    {models.ActionUpdate, models.StepOwnerPublisher},
	{models.StepStatusPending, models.StepStatusInProgress}:          {models.ActionUpdate, models.StepOwnerSystem},
	{models.StepStatusRequiresApproval, models.StepStatusInProgress}: {models.ActionApprove, models.StepOwnerSystem},
	{models.StepStatusRequiresApproval, models.StepStatusFailed}:     {models.ActionReject, models.StepOwnerPrincipal},
	{models.StepStatusInProgress, models.StepStatusCompleted}:        {models.ActionUpdate, models.StepOwnerPrincipal},
	{models.StepStatusInProgress, models.StepStatusFailed}:           {models.ActionUpdate, models.StepOwnerPrincipal},
}

// lookup returns the rule for from -> to. Terminal sources always fail with
// ErrTerminalStep.
func lookup(from, to models.StepStatus) (rule, error) {
	if from.IsTerminal() {
		return rule{}, ErrTerminalStep
	}
	if to == models.StepStatusCanceled {
		return rule{action: models.ActionCancel, owner: models.StepOwnerPrincipal}, nil
	}
	r, ok := transitions[edge{from, to}]
	if !ok {
		return rule{}, ErrInvalidTransition
	}
	return r, nil
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to models.StepStatus) bool {
	_, err := lookup(from, to)
	return err == nil
}
