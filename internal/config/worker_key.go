package config

type WorkerKeyStruct struct {
	PersistEventsQueue string
	PushGradesQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistEventsQueue: "persist_attempt_events_queue",
	PushGradesQueue:    "push_grades_queue",
}
