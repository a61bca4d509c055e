package prometheus

type Sizer interface {
	GetQueueSize() (uint, error)
	GetDeadSize() (uint, error)
}
