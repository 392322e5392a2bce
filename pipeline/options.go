package pipeline

// Options is the backend-specific bundle an engine needs to run a pipeline.
// Bakeries fill the fields their engine understands and leave the rest zero.
type Options struct {
	Runner  string
	JobName string

	Project      string
	Region       string
	TempLocation string
	MachineType  string
	UsePublicIPs bool
	MaxWorkers   int

	// NumWorkers and RunningMode drive the direct engine.
	NumWorkers  int
	RunningMode string

	Experiments       []string
	SDKContainerImage string
	SaveMainSession   bool
	PickleLibrary     string

	// Container settings for engines that start the image themselves.
	Command             string
	CPU                 string
	Memory              string
	ServiceAccountEmail string
	Env                 map[string]string
	Labels              map[string]string
	// Volumes are host directories the container must see at the same path.
	Volumes []string

	// Schedule re-runs a submitted job on a cron spec where the engine supports it.
	Schedule string

	CredentialsFile string
}
