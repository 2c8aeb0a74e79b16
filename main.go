package main

func main() {
	err := newRootCmd().Execute()

	if logFile != nil {
		logFile.Close()
	}

	if err != nil {
		exitOnError(err)
	}
}
