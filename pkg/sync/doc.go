/*
The sync package keeps local projects in sync with their remote destinations.

Each registered project goes through the same lifecycle. An initial rsync
run copies the source to the destination. If the project is live, the
source directory is then watched, and every burst of file changes is
debounced into a single resync once the directory has been quiet for the
debounce delay.

At most one rsync process runs for a project at a time. A resync that's
requested while a run is in flight is dropped rather than queued, since the
next file change will request another one.
*/
package sync
